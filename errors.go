package cloudblob

import (
	"errors"

	"github.com/hupe1980/cloudblob/blobstore"
)

var (
	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = blobstore.ErrNotFound

	// ErrUnsupportedKeyStrategy is returned by Open for key strategies other
	// than content digests.
	ErrUnsupportedKeyStrategy = errors.New("unsupported key strategy")

	// ErrUnknownBackend is returned by Open for an unknown "type" property.
	ErrUnknownBackend = errors.New("unknown backend type")

	// ErrClosed is returned by operations on a closed Provider.
	ErrClosed = errors.New("provider closed")
)
