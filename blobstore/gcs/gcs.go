package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hupe1980/cloudblob/blobstore"
)

// Kind is the backend kind of Google Cloud Storage.
const Kind = "gcs"

// defaultPageSize is used when a listing does not ask for one.
const defaultPageSize = 1000

// Backend implements blobstore.Backend on one GCS bucket.
type Backend struct {
	client     *storage.Client
	bucket     string
	ownsClient bool
}

var _ blobstore.Backend = (*Backend)(nil)

// NewBackend wraps an existing client. The caller keeps ownership of it.
func NewBackend(client *storage.Client, bucket string) *Backend {
	return &Backend{client: client, bucket: bucket}
}

// New connects to GCS with the service account in cfg.CredentialsPath and
// creates the bucket in cfg.Project when it does not exist. Every failure
// is reported as blobstore.ErrConfiguration.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Backend, error) {
	data, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading GCS credentials: %v", blobstore.ErrConfiguration, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing GCS credentials: %v", blobstore.ErrConfiguration, err)
	}

	// Fetch a token now so bad credentials fail at startup. The token source
	// refreshes expired tokens on later calls.
	if _, err := creds.TokenSource.Token(); err != nil {
		return nil, fmt.Errorf("%w: fetching GCS token: %v", blobstore.ErrConfiguration, err)
	}

	clientOpts := []option.ClientOption{option.WithCredentials(creds)}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCS client: %v", blobstore.ErrConfiguration, err)
	}

	b := &Backend{client: client, bucket: cfg.Bucket, ownsClient: true}
	if err := b.ensureBucket(ctx, cfg.Project); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", blobstore.ErrConfiguration, err)
	}
	return b, nil
}

func (b *Backend) ensureBucket(ctx context.Context, project string) error {
	handle := b.client.Bucket(b.bucket)
	_, err := handle.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("accessing GCS bucket %q: %w", b.bucket, err)
	}
	if err := handle.Create(ctx, project, nil); err != nil {
		return fmt.Errorf("creating GCS bucket %q in project %q: %w", b.bucket, project, err)
	}
	return nil
}

func (b *Backend) Kind() string   { return Kind }
func (b *Backend) Bucket() string { return b.bucket }

// Client returns the native client, for callers needing GCS-only features.
func (b *Backend) Client() *storage.Client { return b.client }

// Close closes the client if the backend created it.
func (b *Backend) Close() error {
	if !b.ownsClient {
		return nil
	}
	return b.client.Close()
}

func (b *Backend) object(name string) *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(name)
}

func (b *Backend) Attrs(ctx context.Context, name string) (blobstore.ObjectAttrs, error) {
	attrs, err := b.object(name).Attrs(ctx)
	if err != nil {
		return blobstore.ObjectAttrs{}, translateError(name, err)
	}
	return objectAttrs(attrs), nil
}

func objectAttrs(attrs *storage.ObjectAttrs) blobstore.ObjectAttrs {
	return blobstore.ObjectAttrs{
		Name:       attrs.Name,
		Size:       attrs.Size,
		Generation: attrs.Generation,
		Updated:    attrs.Updated,
	}
}

func (b *Backend) NewRangeReader(ctx context.Context, name string, off, length int64) (io.ReadCloser, error) {
	r, err := b.object(name).NewRangeReader(ctx, off, length)
	if err != nil {
		return nil, translateError(name, err)
	}
	return r, nil
}

// Upload streams r through a resumable upload with opts.ChunkSize chunks.
func (b *Backend) Upload(ctx context.Context, name string, r io.Reader, opts blobstore.UploadOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.object(name).NewWriter(ctx)
	w.ChunkSize = opts.ChunkSize
	w.ContentType = opts.ContentType
	w.ContentDisposition = opts.ContentDisposition
	if opts.SendCRC32C {
		w.CRC32C = opts.CRC32C
		w.SendCRC32C = true
	}

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling the context aborts the upload instead of committing a
		// truncated object.
		cancel()
		_ = w.Close()
		return fmt.Errorf("writing GCS object %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return translateError(name, err)
	}
	return nil
}

// Copy rewrites srcName of src into dstName server side under pre.
func (b *Backend) Copy(ctx context.Context, src blobstore.Backend, srcName, dstName string, pre blobstore.Precondition) error {
	from, ok := src.(*Backend)
	if !ok {
		return fmt.Errorf("gcs: copy from %s: %w", src.Kind(), blobstore.ErrUnsupportedCopy)
	}

	dst := b.object(dstName).If(conditions(pre))
	if _, err := dst.CopierFrom(from.object(srcName)).Run(ctx); err != nil {
		return translateError(srcName, err)
	}
	return nil
}

func conditions(pre blobstore.Precondition) storage.Conditions {
	if pre.DoesNotExist {
		return storage.Conditions{DoesNotExist: true}
	}
	return storage.Conditions{GenerationMatch: pre.GenerationMatch}
}

func (b *Backend) Delete(ctx context.Context, name string) error {
	err := b.object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting GCS object %q: %w", name, err)
	}
	return nil
}

// ListPage fetches one page through iterator.NewPager. Synthetic
// "directory" entries produced by a delimiter are dropped.
func (b *Backend) ListPage(ctx context.Context, q blobstore.ListQuery) (blobstore.ListPage, error) {
	query := &storage.Query{Prefix: q.Prefix, Delimiter: q.Delimiter}
	if err := query.SetAttrSelection([]string{"Name", "Size", "Generation", "Updated"}); err != nil {
		return blobstore.ListPage{}, err
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	it := b.client.Bucket(b.bucket).Objects(ctx, query)
	var items []*storage.ObjectAttrs
	next, err := iterator.NewPager(it, pageSize, q.PageToken).NextPage(&items)
	if err != nil {
		return blobstore.ListPage{}, fmt.Errorf("listing GCS objects with prefix %q: %w", q.Prefix, err)
	}

	page := blobstore.ListPage{NextPageToken: next}
	for _, attrs := range items {
		if attrs.Name == "" {
			continue
		}
		page.Objects = append(page.Objects, objectAttrs(attrs))
	}
	return page, nil
}

// translateError maps GCS not-found and precondition failures to the
// blobstore sentinels.
func translateError(name string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: %s: %w", name, blobstore.ErrNotFound)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("gcs: %s: %w", name, blobstore.ErrNotFound)
		case http.StatusPreconditionFailed:
			return fmt.Errorf("gcs: %s: %w", name, blobstore.ErrPreconditionFailed)
		}
	}
	return fmt.Errorf("gcs: %s: %w", name, err)
}
