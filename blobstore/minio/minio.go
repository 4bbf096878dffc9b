package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/cloudblob/blobstore"
)

// Kind is the backend kind of MinIO.
const Kind = "minio"

const (
	defaultPageSize = 1000
	minPartSize     = 5 * 1024 * 1024
)

// Backend implements blobstore.Backend for MinIO and other S3-compatible
// storage. Generation is derived from LastModified and copy
// preconditions are checked with a stat before the copy.
type Backend struct {
	client *minio.Client
	bucket string
}

var _ blobstore.Backend = (*Backend)(nil)

// NewBackend wraps an existing client.
func NewBackend(client *minio.Client, bucket string) *Backend {
	return &Backend{client: client, bucket: bucket}
}

// New connects to cfg.Endpoint with static credentials and creates the
// bucket when it does not exist. Failures are reported as
// blobstore.ErrConfiguration.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating MinIO client: %v", blobstore.ErrConfiguration, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: accessing MinIO bucket %q: %v", blobstore.ErrConfiguration, cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("%w: creating MinIO bucket %q: %v", blobstore.ErrConfiguration, cfg.Bucket, err)
		}
	}
	return NewBackend(client, cfg.Bucket), nil
}

func (b *Backend) Kind() string   { return Kind }
func (b *Backend) Bucket() string { return b.bucket }

// Client returns the underlying client.
func (b *Backend) Client() *minio.Client { return b.client }

func (b *Backend) Attrs(ctx context.Context, name string) (blobstore.ObjectAttrs, error) {
	info, err := b.client.StatObject(ctx, b.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return blobstore.ObjectAttrs{}, translateError(name, err)
	}
	return objectAttrs(info), nil
}

func objectAttrs(info minio.ObjectInfo) blobstore.ObjectAttrs {
	return blobstore.ObjectAttrs{
		Name:       info.Key,
		Size:       info.Size,
		Generation: info.LastModified.UnixNano(),
		Updated:    info.LastModified,
	}
}

func (b *Backend) NewRangeReader(ctx context.Context, name string, off, length int64) (io.ReadCloser, error) {
	if length == 0 {
		if _, err := b.Attrs(ctx, name); err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	opts := minio.GetObjectOptions{}
	if err := setRange(&opts, off, length); err != nil {
		return nil, err
	}

	obj, err := b.client.GetObject(ctx, b.bucket, name, opts)
	if err != nil {
		return nil, translateError(name, err)
	}
	// GetObject is lazy; Stat surfaces a missing object before the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, translateError(name, err)
	}
	return obj, nil
}

func setRange(opts *minio.GetObjectOptions, off, length int64) error {
	switch {
	case length < 0 && off == 0:
		return nil
	case length < 0:
		return opts.SetRange(off, 0)
	default:
		return opts.SetRange(off, off+length-1)
	}
}

func (b *Backend) Upload(ctx context.Context, name string, r io.Reader, opts blobstore.UploadOptions) error {
	partSize := uint64(opts.ChunkSize)
	if partSize < minPartSize {
		partSize = minPartSize
	}

	putOpts := minio.PutObjectOptions{
		PartSize:           partSize,
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
	}
	if opts.SendCRC32C {
		putOpts.AutoChecksum = minio.ChecksumCRC32C
	}

	if _, err := b.client.PutObject(ctx, b.bucket, name, r, opts.Size, putOpts); err != nil {
		return fmt.Errorf("uploading MinIO object %q: %w", name, err)
	}
	return nil
}

func (b *Backend) Copy(ctx context.Context, src blobstore.Backend, srcName, dstName string, pre blobstore.Precondition) error {
	from, ok := src.(*Backend)
	if !ok {
		return fmt.Errorf("minio: copy from %s: %w", src.Kind(), blobstore.ErrUnsupportedCopy)
	}

	attrs, err := b.Attrs(ctx, dstName)
	exists := err == nil
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}
	if err := pre.Check(attrs, exists); err != nil {
		return fmt.Errorf("minio: %s: %w", dstName, err)
	}

	_, err = b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: dstName},
		minio.CopySrcOptions{Bucket: from.bucket, Object: srcName},
	)
	if err != nil {
		return translateError(srcName, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, name string) error {
	err := b.client.RemoveObject(ctx, b.bucket, name, minio.RemoveObjectOptions{})
	if err != nil {
		if errors.Is(translateError(name, err), blobstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("deleting MinIO object %q: %w", name, err)
	}
	return nil
}

// ListPage lists up to PageSize objects after PageToken, the last name of
// the previous page. MinIO only supports "/" as delimiter; any non-empty
// Delimiter lists non-recursively.
func (b *Backend) ListPage(ctx context.Context, q blobstore.ListQuery) (blobstore.ListPage, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	// Stop the background lister once the page is full.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:     q.Prefix,
		Recursive:  q.Delimiter == "",
		StartAfter: q.PageToken,
		MaxKeys:    pageSize,
	})

	var page blobstore.ListPage
	for obj := range objects {
		if obj.Err != nil {
			return blobstore.ListPage{}, fmt.Errorf("listing MinIO objects with prefix %q: %w", q.Prefix, obj.Err)
		}
		if q.Delimiter != "" && strings.HasSuffix(obj.Key, blobstore.PrefixSeparator) {
			continue
		}
		if len(page.Objects) == pageSize {
			page.NextPageToken = page.Objects[pageSize-1].Name
			break
		}
		page.Objects = append(page.Objects, objectAttrs(obj))
	}
	return page, nil
}

func translateError(name string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("minio: %s: %w", name, blobstore.ErrNotFound)
	case resp.Code == "PreconditionFailed" || resp.StatusCode == http.StatusPreconditionFailed:
		return fmt.Errorf("minio: %s: %w", name, blobstore.ErrPreconditionFailed)
	}
	return fmt.Errorf("minio: %s: %w", name, err)
}
