package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/cloudblob/internal/digest"
	"github.com/hupe1980/cloudblob/internal/fs"
	crc "github.com/hupe1980/cloudblob/internal/hash"
	"github.com/hupe1980/cloudblob/internal/resource"
)

// tempPattern names the staging files of the generic copy path.
const tempPattern = "bin_*.tmp"

// RemoteStore is a content-addressed BlobStore over one Backend. Object
// names are the configured prefix followed by the key.
type RemoteStore struct {
	name           string
	backend        Backend
	prefix         string
	chunkSize      int
	allowByteRange bool
	digest         digest.Algorithm
	verify         bool

	fs      fs.FileSystem
	tempDir string
	logger  *slog.Logger

	uploads *resource.Controller
	deletes *resource.Controller

	gc *GarbageCollector
}

// RemoteOption configures a RemoteStore.
type RemoteOption func(*RemoteStore)

// WithName sets the store name used in logs.
func WithName(name string) RemoteOption {
	return func(s *RemoteStore) {
		s.name = name
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) RemoteOption {
	return func(s *RemoteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFileSystem routes local file access through fsys.
func WithFileSystem(fsys fs.FileSystem) RemoteOption {
	return func(s *RemoteStore) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// WithTempDir sets the directory for staging files. The default is the
// system temporary directory.
func WithTempDir(dir string) RemoteOption {
	return func(s *RemoteStore) {
		s.tempDir = dir
	}
}

// WithDigestVerification hashes every full download of a digest-shaped key
// and fails with ErrDigestMismatch when the content does not match.
func WithDigestVerification() RemoteOption {
	return func(s *RemoteStore) {
		s.verify = true
	}
}

// WithMaxConcurrentUploads bounds concurrent uploads.
func WithMaxConcurrentUploads(n int64) RemoteOption {
	return func(s *RemoteStore) {
		cfg := s.uploads.Config()
		cfg.MaxInFlight = n
		s.uploads = resource.NewController(cfg)
	}
}

// NewRemoteStore creates a store over backend using the prefix, chunk size,
// byte-range flag, digest algorithm and rates of cfg.
func NewRemoteStore(backend Backend, cfg Config, optFns ...RemoteOption) *RemoteStore {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	alg := cfg.Digest
	if alg == "" {
		alg = digest.Default
	}

	s := &RemoteStore{
		name:           backend.Kind(),
		backend:        backend,
		prefix:         NormalizePrefix(cfg.BucketPrefix),
		chunkSize:      chunkSize,
		allowByteRange: cfg.AllowByteRange,
		digest:         alg,
		fs:             fs.Default,
		logger:         slog.New(slog.DiscardHandler),
		uploads:        resource.NewController(resource.Config{IOLimitBytesPerSec: cfg.UploadRate}),
		deletes:        resource.NewController(resource.Config{OpsPerSec: cfg.GCDeleteRate}),
	}

	for _, fn := range optFns {
		fn(s)
	}

	s.gc = newGarbageCollector(s)

	return s
}

func (s *RemoteStore) Name() string { return s.name }

// Prefix returns the normalized object name prefix.
func (s *RemoteStore) Prefix() string { return s.prefix }

// Backend returns the underlying transport.
func (s *RemoteStore) Backend() Backend { return s.backend }

// ObjectName returns the full object name of key.
func (s *RemoteStore) ObjectName(key string) string { return s.prefix + key }

// DigestAlgorithm returns the algorithm keys are expected to follow.
func (s *RemoteStore) DigestAlgorithm() digest.Algorithm { return s.digest }

func (s *RemoteStore) HasVersioning() bool { return false }

func (s *RemoteStore) Unwrap() BlobStore { return s }

// GarbageCollector returns the collector bound to this store.
func (s *RemoteStore) GarbageCollector() *GarbageCollector { return s.gc }

// NewScroll starts a listing of every key under the prefix.
func (s *RemoteStore) NewScroll(pageSize int) *Scroll {
	return newScroll(s.backend, s.prefix, pageSize)
}

func (s *RemoteStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.exists(ctx, s.ObjectName(key))
	return ok, opError("exists", key, err)
}

func (s *RemoteStore) exists(ctx context.Context, name string) (bool, error) {
	_, err := s.backend.Attrs(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Length returns the size of key.
func (s *RemoteStore) Length(ctx context.Context, key string) (int64, error) {
	attrs, err := s.backend.Attrs(ctx, s.ObjectName(key))
	if err != nil {
		return 0, opError("length", key, err)
	}
	return attrs.Size, nil
}

// WriteFile uploads the file at path unless key is already present.
func (s *RemoteStore) WriteFile(ctx context.Context, key, path string) (string, error) {
	return s.WriteFileWithOptions(ctx, key, path, UploadOptions{})
}

// WriteFileWithOptions is WriteFile with content metadata for the upload.
// Size, chunking and checksum fields of opts are filled in by the store.
func (s *RemoteStore) WriteFileWithOptions(ctx context.Context, key, path string, opts UploadOptions) (string, error) {
	if key == "" || strings.Contains(key, ByteRangeSeparator) {
		return "", opError("write", key, ErrInvalidKey)
	}

	name := s.ObjectName(key)

	start := time.Now()
	exists, err := s.exists(ctx, name)
	if err != nil {
		return "", opError("write", key, err)
	}
	if exists {
		s.logger.DebugContext(ctx, "blob already present", "store", s.name, "key", key, "elapsed", time.Since(start))
		return key, nil
	}

	if err := s.upload(ctx, name, path, opts); err != nil {
		return "", opError("write", key, err)
	}
	s.logger.DebugContext(ctx, "blob uploaded", "store", s.name, "key", key, "elapsed", time.Since(start))
	return key, nil
}

func (s *RemoteStore) upload(ctx context.Context, name, path string, opts UploadOptions) error {
	f, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	sum, size, err := crc.ReaderCRC32C(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if err := s.uploads.Acquire(ctx); err != nil {
		return err
	}
	defer s.uploads.Release()

	opts.Size = size
	opts.ChunkSize = s.chunkSize
	opts.CRC32C = sum
	opts.SendCRC32C = true

	return s.backend.Upload(ctx, name, s.uploads.Reader(ctx, f), opts)
}

// ReadBlob downloads key into dest. With byte ranges enabled, a key of the
// form "<key>;<start>-<end>" downloads only that end-inclusive range.
func (s *RemoteStore) ReadBlob(ctx context.Context, key, dest string) (bool, error) {
	objKey, rng, ranged := key, ByteRange{}, false
	if s.allowByteRange {
		objKey, rng, ranged = ParseByteRange(key)
	}

	off, length := int64(0), int64(-1)
	if ranged {
		off, length = rng.Start, rng.Length()
	}

	start := time.Now()
	rc, err := s.backend.NewRangeReader(ctx, s.ObjectName(objKey), off, length)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, opError("read", key, err)
	}
	defer rc.Close()

	var h hash.Hash
	if s.verify && !ranged && s.digest.IsValid(objKey) {
		h = s.digest.New()
	}

	if err := s.download(rc, dest, h); err != nil {
		_ = s.fs.Remove(dest)
		return false, opError("read", key, err)
	}

	if h != nil {
		if got := hex.EncodeToString(h.Sum(nil)); !digest.Equal(got, objKey) {
			_ = s.fs.Remove(dest)
			return false, opError("read", key, fmt.Errorf("%w: got %s", ErrDigestMismatch, got))
		}
	}

	s.logger.DebugContext(ctx, "blob downloaded", "store", s.name, "key", key, "elapsed", time.Since(start))
	return true, nil
}

func (s *RemoteStore) download(r io.Reader, dest string, h hash.Hash) error {
	f, err := s.fs.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	var w io.Writer = f
	if h != nil {
		w = io.MultiWriter(f, h)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// SupportsDirectCopyFrom reports whether source lives in a backend of the
// same kind, so CopyOrMove can copy server side.
func (s *RemoteStore) SupportsDirectCopyFrom(source BlobStore) bool {
	_, ok := s.directSource(source)
	return ok
}

func (s *RemoteStore) directSource(source BlobStore) (DirectCopySource, bool) {
	src, ok := Unwrap(source).(DirectCopySource)
	if !ok || src.Backend().Kind() != s.backend.Kind() {
		return nil, false
	}
	return src, true
}

// CopyOrMove copies server side when source supports it and falls back to
// streaming through a local file otherwise, or when the direct copy finds
// no source object.
func (s *RemoteStore) CopyOrMove(ctx context.Context, key string, source BlobStore, sourceKey string, move bool) (bool, error) {
	if src, ok := s.directSource(source); ok {
		start := time.Now()
		err := s.copyDirect(ctx, key, src, sourceKey)
		switch {
		case err == nil:
			s.logger.DebugContext(ctx, "blob copied", "store", s.name, "key", key, "source", source.Name(), "elapsed", time.Since(start))
			if move {
				if err := source.DeleteBlob(ctx, sourceKey); err != nil {
					return false, opError("move", key, err)
				}
			}
			return true, nil
		case !errors.Is(err, ErrNotFound):
			return false, opError("copy", key, err)
		}
		s.logger.DebugContext(ctx, "source missing for direct copy, falling back", "store", s.name, "key", key, "source", source.Name())
	}

	return s.copyGeneric(ctx, key, source, sourceKey, move)
}

// copyDirect evaluates a fresh precondition on the destination so a
// concurrent writer of the same key is detected rather than overwritten.
func (s *RemoteStore) copyDirect(ctx context.Context, key string, src DirectCopySource, sourceKey string) error {
	dstName := s.ObjectName(key)

	pre := DoesNotExist()
	attrs, err := s.backend.Attrs(ctx, dstName)
	switch {
	case err == nil:
		pre = GenerationMatch(attrs.Generation)
	case !errors.Is(err, ErrNotFound):
		return err
	}

	return s.backend.Copy(ctx, src.Backend(), src.ObjectName(sourceKey), dstName, pre)
}

func (s *RemoteStore) copyGeneric(ctx context.Context, key string, source BlobStore, sourceKey string, move bool) (bool, error) {
	path, release, ok, err := localPath(ctx, source, sourceKey)
	if err != nil {
		return false, opError("copy", key, err)
	}
	defer release()

	if !ok {
		tmp, err := s.createTemp()
		if err != nil {
			return false, opError("copy", key, err)
		}
		defer s.removeTemp(tmp)

		found, err := source.ReadBlob(ctx, sourceKey, tmp)
		if err != nil {
			return false, opError("copy", key, err)
		}
		if !found {
			return false, nil
		}
		path = tmp
	}

	if _, err := s.WriteFile(ctx, key, path); err != nil {
		return false, err
	}

	if move {
		if err := source.DeleteBlob(ctx, sourceKey); err != nil {
			return false, opError("move", key, err)
		}
	}
	return true, nil
}

func (s *RemoteStore) createTemp() (string, error) {
	f, err := s.fs.CreateTemp(s.tempDir, tempPattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		s.removeTemp(name)
		return "", err
	}
	return name, nil
}

func (s *RemoteStore) removeTemp(path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove temporary file", "store", s.name, "path", path, "error", err)
	}
}

// DeleteBlob removes key. Absent keys are ignored.
func (s *RemoteStore) DeleteBlob(ctx context.Context, key string) error {
	return opError("delete", key, s.backend.Delete(ctx, s.ObjectName(key)))
}

// Clear deletes every object in the bucket, regardless of prefix.
func (s *RemoteStore) Clear(ctx context.Context) error {
	token := ""
	for {
		page, err := s.backend.ListPage(ctx, ListQuery{PageToken: token})
		if err != nil {
			return opError("clear", "", err)
		}
		for _, obj := range page.Objects {
			if err := s.backend.Delete(ctx, obj.Name); err != nil {
				return opError("clear", obj.Name, err)
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		token = page.NextPageToken
	}
}
