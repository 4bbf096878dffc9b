package gcs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/hupe1980/cloudblob/blobstore"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"object not exist", storage.ErrObjectNotExist, blobstore.ErrNotFound},
		{"wrapped not exist", fmt.Errorf("x: %w", storage.ErrObjectNotExist), blobstore.ErrNotFound},
		{"api 404", &googleapi.Error{Code: http.StatusNotFound}, blobstore.ErrNotFound},
		{"api 412", &googleapi.Error{Code: http.StatusPreconditionFailed}, blobstore.ErrPreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, translateError("k", tt.err), tt.want)
		})
	}

	other := errors.New("boom")
	err := translateError("k", other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, blobstore.ErrNotFound)
}

func TestConditions(t *testing.T) {
	assert.Equal(t, storage.Conditions{DoesNotExist: true}, conditions(blobstore.DoesNotExist()))
	assert.Equal(t, storage.Conditions{GenerationMatch: 42}, conditions(blobstore.GenerationMatch(42)))
}

func TestCopy_RejectsForeignBackend(t *testing.T) {
	b := NewBackend(nil, "dst")
	err := b.Copy(t.Context(), blobstore.NewMemoryBackend("src"), "a", "b", blobstore.DoesNotExist())
	assert.ErrorIs(t, err, blobstore.ErrUnsupportedCopy)
}

func TestBackend_Identity(t *testing.T) {
	b := NewBackend(nil, "bucket")
	assert.Equal(t, Kind, b.Kind())
	assert.Equal(t, "bucket", b.Bucket())
	assert.NoError(t, b.Close())
}
