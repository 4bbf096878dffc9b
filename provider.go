package cloudblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hupe1980/cloudblob/blobstore"
	"github.com/hupe1980/cloudblob/internal/cache"
	"github.com/hupe1980/cloudblob/internal/digest"
	"github.com/hupe1980/cloudblob/internal/fs"
)

// spoolPattern names the temporary files uploads are spooled to.
const spoolPattern = "cloudblob-*.tmp"

// Provider exposes one configured blob store to an application: content
// is written once under its digest, read back by key and garbage
// collected by mark and sweep.
type Provider struct {
	name    string
	cfg     blobstore.Config
	backend blobstore.Backend
	remote  *blobstore.RemoteStore
	store   blobstore.BlobStore
	cache   *cache.DiskCache
	caching *blobstore.CachingStore

	backendCloser io.Closer

	fs      fs.FileSystem
	tempDir string
	logger  *Logger
	metrics MetricsCollector

	closed atomic.Bool
}

// WriteOptions carries optional content metadata for WriteBlobWithOptions.
type WriteOptions struct {
	// Filename is stored as the Content-Disposition of the object.
	Filename    string
	ContentType string
}

// Open creates the provider name from props.
//
// The backend is chosen by WithBackend or by the "type" property (gcs by
// default). Only the digest key strategy is supported. A local disk cache
// fronts the store unless nocache is set.
func Open(ctx context.Context, name string, props blobstore.Properties, optFns ...Option) (*Provider, error) {
	o := applyOptions(optFns)

	typ := strings.ToLower(strings.TrimSpace(props[blobstore.PropType]))
	if typ == "" {
		typ = TypeGCS
		if o.backend != nil {
			typ = o.backend.Kind()
		}
	}

	if o.backend != nil && strings.TrimSpace(props[blobstore.PropBucket]) == "" {
		props = maps.Clone(props)
		if props == nil {
			props = blobstore.Properties{}
		}
		props[blobstore.PropBucket] = o.backend.Bucket()
	}

	r := props.Resolver(blobstore.SystemPrefix(typ)).WithLookup(o.lookup)
	cfg, err := blobstore.ParseConfigWith(r)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	cfg.Type = typ

	if cfg.KeyStrategy != blobstore.KeyStrategyDigest {
		return nil, fmt.Errorf("provider %s: %w: %q", name, ErrUnsupportedKeyStrategy, cfg.KeyStrategy)
	}

	p := &Provider{
		name:    name,
		cfg:     cfg,
		fs:      o.fs,
		tempDir: o.tempDir,
		logger:  o.logger.WithProvider(name),
		metrics: o.metricsCollector,
	}

	p.backend = o.backend
	if p.backend == nil {
		p.backend, p.backendCloser, err = newBackend(ctx, typ, cfg, r)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
	}

	remoteOpts := []blobstore.RemoteOption{
		blobstore.WithName(name),
		blobstore.WithLogger(p.logger.Logger),
		blobstore.WithFileSystem(o.fs),
		blobstore.WithTempDir(o.tempDir),
	}
	if o.verifyDigests {
		remoteOpts = append(remoteOpts, blobstore.WithDigestVerification())
	}
	p.remote = blobstore.NewRemoteStore(p.backend, cfg, remoteOpts...)
	p.store = p.remote

	if !cfg.NoCache {
		p.cache, err = cache.NewDiskCache(cache.DiskCacheConfig{
			RootDir:      filepath.Join(cfg.CacheDir, name),
			MaxSizeBytes: cfg.CacheSize,
			FS:           o.fs,
		})
		if err != nil {
			_ = p.closeBackend()
			return nil, fmt.Errorf("provider %s: %w: cache: %v", name, blobstore.ErrConfiguration, err)
		}
		// Spool files are private to the provider, so writes can share them.
		p.caching = blobstore.NewCachingStore(p.remote, p.cache,
			blobstore.WithCacheLogger(p.logger.Logger),
			blobstore.WithLinkedWrites(),
		)
		p.store = p.caching
	}

	p.logger.InfoContext(ctx, "provider opened",
		"type", typ,
		"bucket", cfg.Bucket,
		"prefix", cfg.BucketPrefix,
		"cache", !cfg.NoCache,
	)
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Config returns the parsed configuration.
func (p *Provider) Config() blobstore.Config { return p.cfg }

// Store returns the store applications read and write through, the
// caching decorator when caching is on.
func (p *Provider) Store() blobstore.BlobStore { return p.store }

// Remote returns the undecorated remote store.
func (p *Provider) Remote() *blobstore.RemoteStore { return p.remote }

// DigestAlgorithm returns the algorithm keys are computed with.
func (p *Provider) DigestAlgorithm() digest.Algorithm { return p.cfg.Digest }

// SupportsTransactions reports whether writes can join a transaction.
// Objects are immutable and written once, so they never do.
func (p *Provider) SupportsTransactions() bool { return false }

// GarbageCollector returns the store's garbage collector.
func (p *Provider) GarbageCollector() *blobstore.GarbageCollector {
	return p.remote.GarbageCollector()
}

// Scroll lists the stored keys in pages of pageSize.
func (p *Provider) Scroll(pageSize int) *blobstore.Scroll {
	return p.remote.NewScroll(pageSize)
}

// WriteBlob stores the content of r and returns its key, the digest of the
// content.
func (p *Provider) WriteBlob(ctx context.Context, r io.Reader) (string, error) {
	return p.WriteBlobWithOptions(ctx, r, WriteOptions{})
}

// WriteBlobWithOptions is WriteBlob with content metadata.
func (p *Provider) WriteBlobWithOptions(ctx context.Context, r io.Reader, opts WriteOptions) (key string, err error) {
	if p.closed.Load() {
		return "", ErrClosed
	}

	start := time.Now()
	var size int64
	defer func() {
		p.metrics.RecordWrite(size, time.Since(start), err)
		p.logger.LogWrite(ctx, key, size, err)
	}()

	path, sum, n, err := p.spool(r)
	if path != "" {
		defer p.removeTemp(ctx, path)
	}
	if err != nil {
		return "", err
	}
	size = n

	upload := blobstore.UploadOptions{ContentType: opts.ContentType}
	if opts.Filename != "" {
		upload.ContentDisposition = mime.FormatMediaType("attachment", map[string]string{"filename": opts.Filename})
	}

	if w, ok := p.store.(interface {
		WriteFileWithOptions(context.Context, string, string, blobstore.UploadOptions) (string, error)
	}); ok {
		return w.WriteFileWithOptions(ctx, sum, path, upload)
	}
	return p.store.WriteFile(ctx, sum, path)
}

// spool copies r to a temporary file while hashing it. The returned path
// is set whenever a file was created, even on error.
func (p *Provider) spool(r io.Reader) (path, sum string, n int64, err error) {
	f, err := p.fs.CreateTemp(p.tempDir, spoolPattern)
	if err != nil {
		return "", "", 0, fmt.Errorf("spooling blob: %w", err)
	}
	path = f.Name()

	h := p.cfg.Digest.New()
	n, err = io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return path, "", n, fmt.Errorf("spooling blob: %w", err)
	}
	return path, fmt.Sprintf("%x", h.Sum(nil)), n, nil
}

func (p *Provider) removeTemp(ctx context.Context, path string) {
	if err := p.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.WarnContext(ctx, "failed to remove temporary file", "path", path, "error", err)
	}
}

// ReadBlob downloads key into dest. It returns false when the key does
// not exist.
func (p *Provider) ReadBlob(ctx context.Context, key, dest string) (found bool, err error) {
	if p.closed.Load() {
		return false, ErrClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.RecordRead(found, time.Since(start), err)
		p.logger.LogRead(ctx, key, found, err)
	}()

	return p.store.ReadBlob(ctx, key, dest)
}

// Open returns a reader over the content of key, or ErrNotFound. With
// caching on, the reader is backed by the cache file; otherwise the blob
// is downloaded to a temporary file removed on Close.
func (p *Provider) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	if lf, ok := p.store.(blobstore.LocalFiler); ok {
		path, release, found, err := lf.LocalFile(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		// An open descriptor outlives the removal of an evicted file.
		defer release()
		return p.fs.OpenFile(path, os.O_RDONLY, 0)
	}

	f, err := p.fs.CreateTemp(p.tempDir, spoolPattern)
	if err != nil {
		return nil, err
	}
	path := f.Name()
	_ = f.Close()

	found, err := p.ReadBlob(ctx, key, path)
	if err != nil || !found {
		p.removeTemp(ctx, path)
		if err == nil {
			err = fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}

	rf, err := p.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		p.removeTemp(ctx, path)
		return nil, err
	}
	return &tempFileReader{File: rf, remove: func() { p.removeTemp(ctx, path) }}, nil
}

type tempFileReader struct {
	fs.File
	remove func()
}

func (r *tempFileReader) Close() error {
	err := r.File.Close()
	r.remove()
	return err
}

// Exists reports whether key is stored.
func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	if p.closed.Load() {
		return false, ErrClosed
	}
	return p.store.Exists(ctx, key)
}

// Length returns the size of key in bytes, or ErrNotFound.
func (p *Provider) Length(ctx context.Context, key string) (int64, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if l, ok := p.store.(blobstore.Lengther); ok {
		return l.Length(ctx, key)
	}
	return p.remote.Length(ctx, key)
}

// DeleteBlob removes key. Deleting an absent key is not an error.
func (p *Provider) DeleteBlob(ctx context.Context, key string) (err error) {
	if p.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.RecordDelete(time.Since(start), err)
		p.logger.LogDelete(ctx, key, err)
	}()

	return p.store.DeleteBlob(ctx, key)
}

// CopyFrom copies key from src into this provider, deleting it from src
// when move is set. It returns false when src does not have key.
func (p *Provider) CopyFrom(ctx context.Context, src *Provider, key string, move bool) (found bool, err error) {
	if p.closed.Load() || src.closed.Load() {
		return false, ErrClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.RecordCopy(move, time.Since(start), err)
		p.logger.LogCopy(ctx, key, src.name, move, found, err)
	}()

	return p.store.CopyOrMove(ctx, key, src.store, key, move)
}

// CollectGarbage runs one mark and sweep: it lists the candidates, calls
// mark so the caller can Mark every key still referenced, then removes
// the rest when del is set. Without del it only reports what would be
// removed.
func (p *Provider) CollectGarbage(ctx context.Context, mark func(gc *blobstore.GarbageCollector) error, del bool) (status blobstore.GCStatus, err error) {
	if p.closed.Load() {
		return blobstore.GCStatus{}, ErrClosed
	}

	gc := p.GarbageCollector()
	start := time.Now()
	defer func() {
		p.metrics.RecordGC(status.NumBinariesGC, status.SizeBinariesGC, time.Since(start), err)
		p.logger.LogGC(ctx, gc.ID(), status, err)
	}()

	if err := gc.ComputeToDelete(ctx); err != nil {
		return blobstore.GCStatus{}, err
	}
	if mark != nil {
		if err := mark(gc); err != nil {
			return gc.Status(), err
		}
	}
	var unmarked []string
	if del && p.caching != nil {
		if unmarked, err = gc.UnmarkedBlobs(); err != nil {
			return gc.Status(), err
		}
	}

	status, err = gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, del)

	// The sweep deletes below the caching decorator; drop cached copies and
	// lengths of everything it may have removed.
	for _, key := range unmarked {
		p.caching.Invalidate(key)
	}
	return status, err
}

// Close releases the cache and the backend connection. It is safe to call
// more than once.
func (p *Provider) Close() error {
	if p == nil || !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if p.cache != nil {
		if err := p.cache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.closeBackend(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (p *Provider) closeBackend() error {
	if p.backendCloser == nil {
		return nil
	}
	return p.backendCloser.Close()
}
