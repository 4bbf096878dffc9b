package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/cloudblob/blobstore"
)

// Kind is the backend kind of Amazon S3.
const Kind = "s3"

const defaultPageSize = 1000

// Backend implements blobstore.Backend on one S3 bucket.
//
// S3 has no object generations. Generation is derived from LastModified,
// and copy preconditions are checked with a HEAD before the copy, which
// leaves a short window a concurrent writer can slip through.
type Backend struct {
	client Client
	bucket string
}

var _ blobstore.Backend = (*Backend)(nil)

// NewBackend wraps an existing client.
func NewBackend(client Client, bucket string) *Backend {
	return &Backend{client: client, bucket: bucket}
}

// New loads the default AWS configuration, applies opts and verifies the
// bucket is reachable. Failures are reported as blobstore.ErrConfiguration.
func New(ctx context.Context, bucket string, optFns ...Option) (*Backend, error) {
	opts := options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS config: %v", blobstore.ErrConfiguration, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.endpoint != "" {
			o.BaseEndpoint = aws.String(opts.endpoint)
		}
		o.UsePathStyle = opts.usePathStyle
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("%w: accessing S3 bucket %q: %v", blobstore.ErrConfiguration, bucket, err)
	}
	return NewBackend(client, bucket), nil
}

func (b *Backend) Kind() string   { return Kind }
func (b *Backend) Bucket() string { return b.bucket }

// Client returns the underlying client.
func (b *Backend) Client() Client { return b.client }

func (b *Backend) Attrs(ctx context.Context, name string) (blobstore.ObjectAttrs, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return blobstore.ObjectAttrs{}, translateError(name, err)
	}

	attrs := blobstore.ObjectAttrs{
		Name: name,
		Size: aws.ToInt64(head.ContentLength),
	}
	if head.LastModified != nil {
		attrs.Updated = *head.LastModified
		attrs.Generation = head.LastModified.UnixNano()
	}
	return attrs, nil
}

func (b *Backend) NewRangeReader(ctx context.Context, name string, off, length int64) (io.ReadCloser, error) {
	if length == 0 {
		// HTTP has no empty byte range; only check existence.
		if _, err := b.Attrs(ctx, name); err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	}
	if r := rangeHeader(off, length); r != "" {
		input.Range = aws.String(r)
	}

	resp, err := b.client.GetObject(ctx, input)
	if err != nil {
		return nil, translateError(name, err)
	}
	return resp.Body, nil
}

// rangeHeader returns the HTTP Range for off and length, or "" for the
// whole object.
func rangeHeader(off, length int64) string {
	switch {
	case length < 0 && off == 0:
		return ""
	case length < 0:
		return fmt.Sprintf("bytes=%d-", off)
	default:
		return fmt.Sprintf("bytes=%d-%d", off, off+length-1)
	}
}

// Upload goes through the multipart upload manager. Parts are
// max(opts.ChunkSize, 5 MiB) since S3 rejects smaller parts.
func (b *Backend) Upload(ctx context.Context, name string, r io.Reader, opts blobstore.UploadOptions) error {
	partSize := int64(opts.ChunkSize)
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}

	uploader := manager.NewUploader(b.client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.LeavePartsOnError = false
	})

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
		Body:   r,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		input.ContentDisposition = aws.String(opts.ContentDisposition)
	}
	if opts.SendCRC32C {
		if opts.Size >= 0 && opts.Size <= partSize {
			// Single PutObject: send the precomputed full-object checksum.
			input.ChecksumCRC32C = aws.String(encodeCRC32C(opts.CRC32C))
		} else {
			input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
		}
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("uploading S3 object %q: %w", name, err)
	}
	return nil
}

// encodeCRC32C formats a checksum the way S3 expects: base64 of the
// big-endian bytes.
func encodeCRC32C(sum uint32) string {
	b := []byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)}
	return base64.StdEncoding.EncodeToString(b)
}

func (b *Backend) Copy(ctx context.Context, src blobstore.Backend, srcName, dstName string, pre blobstore.Precondition) error {
	from, ok := src.(*Backend)
	if !ok {
		return fmt.Errorf("s3: copy from %s: %w", src.Kind(), blobstore.ErrUnsupportedCopy)
	}

	attrs, err := b.Attrs(ctx, dstName)
	exists := err == nil
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}
	if err := pre.Check(attrs, exists); err != nil {
		return fmt.Errorf("s3: %s: %w", dstName, err)
	}

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstName),
		CopySource: aws.String(copySource(from.bucket, srcName)),
	})
	if err != nil {
		return translateError(srcName, err)
	}
	return nil
}

func copySource(bucket, key string) string {
	return bucket + "/" + url.PathEscape(key)
}

// Delete removes name. S3 reports success for absent keys.
func (b *Backend) Delete(ctx context.Context, name string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if errors.Is(translateError(name, err), blobstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("deleting S3 object %q: %w", name, err)
	}
	return nil
}

// ListPage maps one ListObjectsV2 call. Common prefixes produced by the
// delimiter are not returned.
func (b *Backend) ListPage(ctx context.Context, q blobstore.ListQuery) (blobstore.ListPage, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(q.Prefix),
		MaxKeys: aws.Int32(int32(pageSize)),
	}
	if q.Delimiter != "" {
		input.Delimiter = aws.String(q.Delimiter)
	}
	if q.PageToken != "" {
		input.ContinuationToken = aws.String(q.PageToken)
	}

	out, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return blobstore.ListPage{}, fmt.Errorf("listing S3 objects with prefix %q: %w", q.Prefix, err)
	}

	var page blobstore.ListPage
	for _, obj := range out.Contents {
		attrs := blobstore.ObjectAttrs{
			Name: aws.ToString(obj.Key),
			Size: aws.ToInt64(obj.Size),
		}
		if obj.LastModified != nil {
			attrs.Updated = *obj.LastModified
			attrs.Generation = obj.LastModified.UnixNano()
		}
		page.Objects = append(page.Objects, attrs)
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextPageToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// translateError maps S3 not-found and precondition errors to the
// blobstore sentinels.
func translateError(name string, err error) error {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return fmt.Errorf("s3: %s: %w", name, blobstore.ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("s3: %s: %w", name, blobstore.ErrNotFound)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("s3: %s: %w", name, blobstore.ErrPreconditionFailed)
		}
	}
	return fmt.Errorf("s3: %s: %w", name, err)
}
