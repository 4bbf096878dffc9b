package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/cloudblob/internal/fs"
)

// LocalKind is the kind reported by LocalStore.
const LocalKind = "local"

// LocalStore implements BlobStore using the local file system. Blobs are
// files named <root>/<key>; writes go through a temporary file and a rename.
type LocalStore struct {
	root string
	fs   fs.FileSystem
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string) (*LocalStore, error) {
	return NewLocalStoreFS(root, fs.Default)
}

// NewLocalStoreFS is NewLocalStore with an explicit file system.
func NewLocalStoreFS(root string, fsys fs.FileSystem) (*LocalStore, error) {
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{root: root, fs: fsys}, nil
}

func (s *LocalStore) Name() string        { return LocalKind + ":" + s.root }
func (s *LocalStore) HasVersioning() bool { return false }
func (s *LocalStore) Unwrap() BlobStore   { return s }

// Root returns the directory holding the blobs.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, key), nil
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = s.fs.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Length returns the size of key.
func (s *LocalStore) Length(_ context.Context, key string) (int64, error) {
	path, err := s.path(key)
	if err != nil {
		return 0, err
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// LocalFile exposes the blob file itself. Nothing is pinned.
func (s *LocalStore) LocalFile(ctx context.Context, key string) (string, func(), bool, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		return "", noRelease, false, err
	}
	path, _ := s.path(key)
	return path, noRelease, true, nil
}

// ReadBlob copies key, or the range "<key>;<start>-<end>", to dest.
func (s *LocalStore) ReadBlob(_ context.Context, key, dest string) (bool, error) {
	objKey, rng, ranged := ParseByteRange(key)
	path, err := s.path(objKey)
	if err != nil {
		return false, err
	}

	in, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer in.Close()

	var r io.Reader = in
	if ranged {
		r = io.NewSectionReader(in, rng.Start, rng.Length())
	}

	out, err := s.fs.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return false, err
	}
	return true, out.Close()
}

func (s *LocalStore) WriteFile(ctx context.Context, key, path string) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if ok, err := s.Exists(ctx, key); err != nil || ok {
		return key, err
	}

	tmp, err := s.fs.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	if _, err := fs.CopyFile(s.fs, path, tmpName); err != nil {
		_ = s.fs.Remove(tmpName)
		return "", err
	}
	if err := s.fs.Rename(tmpName, dst); err != nil {
		_ = s.fs.Remove(tmpName)
		return "", err
	}
	return key, nil
}

// CopyOrMove copies from any source, reading its local file when it has one.
func (s *LocalStore) CopyOrMove(ctx context.Context, key string, source BlobStore, sourceKey string, move bool) (bool, error) {
	if path, release, ok, err := localPath(ctx, source, sourceKey); err != nil {
		return false, err
	} else if ok {
		_, err := s.WriteFile(ctx, key, path)
		release()
		if err != nil {
			return false, err
		}
		if move {
			return true, source.DeleteBlob(ctx, sourceKey)
		}
		return true, nil
	}

	tmp, err := s.fs.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = s.fs.Remove(tmpName) }()

	found, err := source.ReadBlob(ctx, sourceKey, tmpName)
	if err != nil || !found {
		return false, err
	}
	if _, err := s.WriteFile(ctx, key, tmpName); err != nil {
		return false, err
	}
	if move {
		return true, source.DeleteBlob(ctx, sourceKey)
	}
	return true, nil
}

func localPath(ctx context.Context, source BlobStore, key string) (string, func(), bool, error) {
	lf, ok := source.(LocalFiler)
	if !ok {
		return "", noRelease, false, nil
	}
	return lf.LocalFile(ctx, key)
}

func noRelease() {}

func (s *LocalStore) DeleteBlob(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) Clear(_ context.Context) error {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.root, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
