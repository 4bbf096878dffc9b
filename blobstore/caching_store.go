package blobstore

import (
	"context"
	"log/slog"

	"github.com/hupe1980/cloudblob/internal/cache"
	"github.com/hupe1980/cloudblob/internal/fs"
)

// DefaultLengthCacheEntries bounds the in-memory blob length cache.
const DefaultLengthCacheEntries = 10_000

// CachingStore wraps a BlobStore and keeps whole blobs in a local disk cache.
type CachingStore struct {
	inner   BlobStore
	cache   *cache.DiskCache
	lengths *cache.LRU[string, int64]
	fs      fs.FileSystem
	logger  *slog.Logger

	// linkWrites hard-links written files into the cache.
	linkWrites bool
}

// CachingOption configures a CachingStore.
type CachingOption func(*CachingStore)

// WithCacheLogger sets the logger for cache population failures.
func WithCacheLogger(l *slog.Logger) CachingOption {
	return func(s *CachingStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLengthCacheEntries bounds the in-memory length cache.
func WithLengthCacheEntries(n int) CachingOption {
	return func(s *CachingStore) {
		s.lengths = cache.NewLRU[string, int64](n)
	}
}

// WithLinkedWrites makes writes hard-link the source file into the cache
// instead of copying it. Callers must not modify a file after writing it.
func WithLinkedWrites() CachingOption {
	return func(s *CachingStore) {
		s.linkWrites = true
	}
}

// NewCachingStore creates a new CachingStore.
func NewCachingStore(inner BlobStore, c *cache.DiskCache, optFns ...CachingOption) *CachingStore {
	s := &CachingStore{
		inner:   inner,
		cache:   c,
		lengths: cache.NewLRU[string, int64](DefaultLengthCacheEntries),
		fs:      fs.Default,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

func (s *CachingStore) Name() string        { return s.inner.Name() }
func (s *CachingStore) HasVersioning() bool { return s.inner.HasVersioning() }
func (s *CachingStore) Unwrap() BlobStore   { return s.inner }

// Cache returns the underlying disk cache.
func (s *CachingStore) Cache() *cache.DiskCache { return s.cache }

func (s *CachingStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, ok := s.cache.Get(key); ok {
		return true, nil
	}
	return s.inner.Exists(ctx, key)
}

// LocalFile returns the cached file for key, downloading it on a miss. The
// file is pinned against eviction until release is called.
func (s *CachingStore) LocalFile(ctx context.Context, key string) (string, func(), bool, error) {
	return s.cache.Fetch(key, func(path string) (bool, error) {
		return s.inner.ReadBlob(ctx, key, path)
	})
}

// ReadBlob serves whole blobs from the cache. Byte-range keys bypass it.
func (s *CachingStore) ReadBlob(ctx context.Context, key, dest string) (bool, error) {
	if _, _, ranged := ParseByteRange(key); ranged {
		return s.inner.ReadBlob(ctx, key, dest)
	}

	path, release, ok, err := s.LocalFile(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	defer release()
	if _, err := fs.CopyFile(s.fs, path, dest); err != nil {
		return false, opError("read", key, err)
	}
	return true, nil
}

// WriteFile writes through to the inner store, then caches the file.
func (s *CachingStore) WriteFile(ctx context.Context, key, path string) (string, error) {
	k, err := s.inner.WriteFile(ctx, key, path)
	if err != nil {
		return "", err
	}
	s.populate(ctx, k, path)
	return k, nil
}

// WriteFileWithOptions forwards content metadata when the inner store
// accepts it.
func (s *CachingStore) WriteFileWithOptions(ctx context.Context, key, path string, opts UploadOptions) (string, error) {
	w, ok := s.inner.(interface {
		WriteFileWithOptions(context.Context, string, string, UploadOptions) (string, error)
	})
	if !ok {
		return s.WriteFile(ctx, key, path)
	}
	k, err := w.WriteFileWithOptions(ctx, key, path, opts)
	if err != nil {
		return "", err
	}
	s.populate(ctx, k, path)
	return k, nil
}

func (s *CachingStore) populate(ctx context.Context, key, path string) {
	put := s.cache.PutFile
	if s.linkWrites {
		put = s.cache.LinkFile
	}
	if _, err := put(key, path); err != nil {
		s.logger.WarnContext(ctx, "failed to cache written blob", "key", key, "error", err)
	}
}

func (s *CachingStore) CopyOrMove(ctx context.Context, key string, source BlobStore, sourceKey string, move bool) (bool, error) {
	return s.inner.CopyOrMove(ctx, key, source, sourceKey, move)
}

// SupportsDirectCopyFrom delegates to the inner store.
func (s *CachingStore) SupportsDirectCopyFrom(source BlobStore) bool {
	dc, ok := s.inner.(DirectCopier)
	return ok && dc.SupportsDirectCopyFrom(source)
}

// Length returns the size of key from the cache when possible.
func (s *CachingStore) Length(ctx context.Context, key string) (int64, error) {
	if n, ok := s.lengths.Get(key); ok {
		return n, nil
	}

	var (
		n   int64
		err error
	)
	if path, ok := s.cache.Get(key); ok {
		info, serr := s.fs.Stat(path)
		if serr == nil {
			n = info.Size()
		} else {
			n, err = s.innerLength(ctx, key)
		}
	} else {
		n, err = s.innerLength(ctx, key)
	}
	if err != nil {
		return 0, err
	}
	s.lengths.Set(key, n)
	return n, nil
}

func (s *CachingStore) innerLength(ctx context.Context, key string) (int64, error) {
	if l, ok := s.inner.(Lengther); ok {
		return l.Length(ctx, key)
	}
	path, release, ok, err := s.LocalFile(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, opError("length", key, ErrNotFound)
	}
	defer release()
	info, err := s.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Invalidate forgets everything cached locally about key without touching
// the inner store. Use it after deleting key through another handle.
func (s *CachingStore) Invalidate(key string) {
	s.cache.Invalidate(key)
	s.lengths.Remove(key)
}

func (s *CachingStore) DeleteBlob(ctx context.Context, key string) error {
	s.Invalidate(key)
	return s.inner.DeleteBlob(ctx, key)
}

func (s *CachingStore) Clear(ctx context.Context) error {
	s.lengths.Purge()
	if err := s.cache.Clear(); err != nil {
		return err
	}
	return s.inner.Clear(ctx)
}
