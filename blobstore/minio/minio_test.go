package minio

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cloudblob/blobstore"
	"github.com/hupe1980/cloudblob/blobstore/blobstoretest"
)

func TestTranslateError(t *testing.T) {
	assert.ErrorIs(t, translateError("k", minio.ErrorResponse{Code: "NoSuchKey"}), blobstore.ErrNotFound)
	assert.ErrorIs(t, translateError("k", minio.ErrorResponse{StatusCode: http.StatusNotFound}), blobstore.ErrNotFound)
	assert.ErrorIs(t, translateError("k", minio.ErrorResponse{Code: "PreconditionFailed"}), blobstore.ErrPreconditionFailed)

	other := errors.New("boom")
	assert.ErrorIs(t, translateError("k", other), other)
}

func TestSetRange(t *testing.T) {
	tests := []struct {
		off, length int64
		want        string
	}{
		{0, -1, ""},
		{10, -1, "bytes=10-"},
		{0, 5, "bytes=0-4"},
		{3, 1, "bytes=3-3"},
	}
	for _, tt := range tests {
		opts := minio.GetObjectOptions{}
		require.NoError(t, setRange(&opts, tt.off, tt.length))
		assert.Equal(t, tt.want, opts.Header().Get("Range"))
	}
}

func TestParseConfig(t *testing.T) {
	r := blobstore.Properties{
		blobstore.PropBucket: "blobs",
		PropEndpoint:         "localhost:9000",
		PropAccessKey:        "ak",
		PropSecretKey:        "sk",
		PropSecure:           "true",
	}.Resolver(SystemPrefix).WithLookup(func(string) (string, bool) { return "", false })

	cfg, err := ParseConfigWith(r)
	require.NoError(t, err)
	assert.Equal(t, Config{Bucket: "blobs", Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk", Secure: true}, cfg)

	_, err = ParseConfigWith(blobstore.Properties{blobstore.PropBucket: "b"}.Resolver(""))
	assert.ErrorIs(t, err, blobstore.ErrMissingProperty)
}

func TestCopy_RejectsForeignBackend(t *testing.T) {
	b := NewBackend(nil, "dst")
	err := b.Copy(context.Background(), blobstore.NewMemoryBackend("src"), "a", "b", blobstore.DoesNotExist())
	assert.ErrorIs(t, err, blobstore.ErrUnsupportedCopy)
}

// TestBackend_Integration requires a running MinIO instance.
// Skip if not available.
func TestBackend_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	bucket := "test-cloudblob"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	// Check if MinIO is reachable
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	b, err := New(ctx, Config{
		Bucket:    bucket,
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	require.NoError(t, err)

	blobstoretest.RunBackend(t, b, "test-prefix/")
}
