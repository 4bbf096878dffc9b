package blobstore

import (
	"context"
)

// BlobStore is a content-addressed store of immutable blobs.
//
// Keys are opaque to the store; callers use content digests. Writes of an
// existing key are no-ops. Implementations must be safe for concurrent use.
type BlobStore interface {
	// Name identifies the store in logs.
	Name() string

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// ReadBlob writes the content of key to the file dest. It returns false
	// without creating dest when key is absent.
	ReadBlob(ctx context.Context, key, dest string) (bool, error)

	// WriteFile stores the content of the local file path under key and
	// returns the key.
	WriteFile(ctx context.Context, key, path string) (string, error)

	// CopyOrMove copies sourceKey of source to key in this store, deleting
	// the source when move is set. It returns false when sourceKey is absent.
	CopyOrMove(ctx context.Context, key string, source BlobStore, sourceKey string, move bool) (bool, error)

	// DeleteBlob removes key. Deleting an absent key is not an error.
	DeleteBlob(ctx context.Context, key string) error

	// Clear removes every blob.
	Clear(ctx context.Context) error

	// HasVersioning reports whether overwritten keys keep prior versions.
	HasVersioning() bool

	// Unwrap returns the decorated store, or the store itself.
	Unwrap() BlobStore
}

// LocalFiler is implemented by stores that can expose a blob as a local file
// without a copy. The file stays valid until release is called; release is
// never nil and must be called once the caller is done with path.
type LocalFiler interface {
	LocalFile(ctx context.Context, key string) (path string, release func(), ok bool, err error)
}

// DirectCopier is implemented by stores that can copy from some sources
// without moving bytes through the local machine.
type DirectCopier interface {
	SupportsDirectCopyFrom(source BlobStore) bool
}

// Lengther is implemented by stores that can report a blob size without
// reading it.
type Lengther interface {
	Length(ctx context.Context, key string) (int64, error)
}

// DirectCopySource is implemented by stores whose objects live in a Backend
// and can therefore serve as the source of a server-side copy.
type DirectCopySource interface {
	Backend() Backend
	ObjectName(key string) string
}

// Unwrap peels decorators off s until it reaches the innermost store.
func Unwrap(s BlobStore) BlobStore {
	for s != nil {
		inner := s.Unwrap()
		if inner == nil || inner == s {
			return s
		}
		s = inner
	}
	return s
}
