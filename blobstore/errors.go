package blobstore

import (
	"errors"
	"fmt"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

var (
	// ErrNoMoreElements is returned by Scroll.Next after the listing is exhausted.
	ErrNoMoreElements = errors.New("blobstore: no more elements")

	// ErrInvalidGCState is returned when a garbage collector operation is
	// called out of order.
	ErrInvalidGCState = errors.New("blobstore: invalid garbage collector state")

	// ErrDigestMismatch is returned when downloaded content does not hash to its key.
	ErrDigestMismatch = errors.New("blobstore: digest mismatch")

	// ErrMissingProperty is returned when a required property is not set.
	ErrMissingProperty = errors.New("blobstore: missing property")

	// ErrInvalidProperty is returned when a property value cannot be parsed.
	ErrInvalidProperty = errors.New("blobstore: invalid property")

	// ErrConfiguration is returned when a backend cannot be initialized.
	ErrConfiguration = errors.New("blobstore: configuration failure")

	// ErrPreconditionFailed is returned when a conditional write lost a race.
	ErrPreconditionFailed = errors.New("blobstore: precondition failed")

	// ErrInvalidKey is returned for keys that cannot be stored.
	ErrInvalidKey = errors.New("blobstore: invalid key")

	// ErrUnsupportedCopy is returned by a backend asked to copy from a
	// backend of another kind.
	ErrUnsupportedCopy = errors.New("blobstore: unsupported copy source")
)

// OpError records a failed store operation and the key it failed on.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("blobstore: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Key: key, Err: err}
}
