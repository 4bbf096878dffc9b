package blobstore

import (
	"context"
	"io"
	"time"
)

// DefaultChunkSize is the upload chunk size used when none is configured.
const DefaultChunkSize = 2 * 1024 * 1024

// ObjectAttrs describes a remote object.
type ObjectAttrs struct {
	Name string
	Size int64
	// Generation changes every time the object is rewritten. GCS reports its
	// object generation; other backends derive a token from their metadata.
	Generation int64
	Updated    time.Time
}

// Precondition guards a conditional write on the destination object.
type Precondition struct {
	DoesNotExist    bool
	GenerationMatch int64
}

// DoesNotExist requires the destination to be absent.
func DoesNotExist() Precondition {
	return Precondition{DoesNotExist: true}
}

// GenerationMatch requires the destination to still be at generation gen.
func GenerationMatch(gen int64) Precondition {
	return Precondition{GenerationMatch: gen}
}

// Check evaluates the precondition against the current destination attrs.
// exists is false when the destination is absent. Backends without native
// conditional copies use it before copying.
func (p Precondition) Check(attrs ObjectAttrs, exists bool) error {
	switch {
	case p.DoesNotExist && exists:
		return ErrPreconditionFailed
	case p.GenerationMatch != 0 && (!exists || attrs.Generation != p.GenerationMatch):
		return ErrPreconditionFailed
	}
	return nil
}

// UploadOptions tunes a single upload.
type UploadOptions struct {
	// Size is the number of bytes the reader yields, or -1 if unknown.
	Size int64
	// ChunkSize is the resumable upload chunk or multipart part size.
	ChunkSize int
	// CRC32C is the checksum of the content, sent when SendCRC32C is set.
	CRC32C     uint32
	SendCRC32C bool

	ContentType        string
	ContentDisposition string
}

// ListQuery selects one page of a listing.
type ListQuery struct {
	Prefix string
	// Delimiter, when set, hides objects below the next delimiter after Prefix.
	Delimiter string
	PageToken string
	PageSize  int
}

// ListPage is one page of a listing.
type ListPage struct {
	Objects []ObjectAttrs
	// NextPageToken is empty on the last page.
	NextPageToken string
}

// Backend is the transport to one bucket of an object storage service.
//
// All names are full object names; prefixes are applied by the caller.
// Implementations translate their not-found errors to ErrNotFound and their
// precondition failures to ErrPreconditionFailed.
type Backend interface {
	// Kind names the service, e.g. "gcs". Direct copies require equal kinds.
	Kind() string
	Bucket() string

	Attrs(ctx context.Context, name string) (ObjectAttrs, error)

	// NewRangeReader streams length bytes from off. A negative length reads
	// to the end of the object.
	NewRangeReader(ctx context.Context, name string, off, length int64) (io.ReadCloser, error)

	// Upload stores the content of r under name, chunked by opts.ChunkSize.
	Upload(ctx context.Context, name string, r io.Reader, opts UploadOptions) error

	// Copy copies srcName of src, a backend of the same kind, to dstName
	// under pre. A missing source yields ErrNotFound.
	Copy(ctx context.Context, src Backend, srcName, dstName string, pre Precondition) error

	// Delete removes name. Deleting an absent object is not an error.
	Delete(ctx context.Context, name string) error

	ListPage(ctx context.Context, q ListQuery) (ListPage, error)
}
