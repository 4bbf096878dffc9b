// Package blobstoretest holds a conformance suite for blobstore.Backend
// implementations.
package blobstoretest

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cloudblob/blobstore"
)

// RunBackend exercises b under prefix. Objects left behind are removed on
// cleanup. Use a fresh prefix per run against shared buckets.
func RunBackend(t *testing.T, b blobstore.Backend, prefix string) {
	t.Helper()

	ctx := context.Background()
	name := func(n string) string { return prefix + n }

	t.Cleanup(func() {
		for _, n := range []string{"a", "b", "c", "dir/x", "copy"} {
			_ = b.Delete(ctx, name(n))
		}
	})

	upload := func(t *testing.T, n string, data []byte) {
		t.Helper()
		err := b.Upload(ctx, name(n), bytes.NewReader(data), blobstore.UploadOptions{
			Size:      int64(len(data)),
			ChunkSize: blobstore.DefaultChunkSize,
		})
		require.NoError(t, err)
	}

	read := func(t *testing.T, n string, off, length int64) []byte {
		t.Helper()
		rc, err := b.NewRangeReader(ctx, name(n), off, length)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return data
	}

	t.Run("UploadAndRead", func(t *testing.T) {
		upload(t, "a", []byte("hello backend"))

		attrs, err := b.Attrs(ctx, name("a"))
		require.NoError(t, err)
		assert.Equal(t, name("a"), attrs.Name)
		assert.Equal(t, int64(13), attrs.Size)
		assert.NotZero(t, attrs.Generation)

		assert.Equal(t, []byte("hello backend"), read(t, "a", 0, -1))
		assert.Equal(t, []byte("back"), read(t, "a", 6, 4))
		assert.Equal(t, []byte("end"), read(t, "a", 10, -1))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := b.Attrs(ctx, name("missing"))
		assert.ErrorIs(t, err, blobstore.ErrNotFound)

		_, err = b.NewRangeReader(ctx, name("missing"), 0, -1)
		assert.ErrorIs(t, err, blobstore.ErrNotFound)

		assert.NoError(t, b.Delete(ctx, name("missing")))
	})

	t.Run("Copy", func(t *testing.T) {
		upload(t, "b", []byte("copy me"))

		require.NoError(t, b.Copy(ctx, b, name("b"), name("copy"), blobstore.DoesNotExist()))
		assert.Equal(t, []byte("copy me"), read(t, "copy", 0, -1))

		err := b.Copy(ctx, b, name("b"), name("copy"), blobstore.DoesNotExist())
		assert.ErrorIs(t, err, blobstore.ErrPreconditionFailed)

		attrs, err := b.Attrs(ctx, name("copy"))
		require.NoError(t, err)
		require.NoError(t, b.Copy(ctx, b, name("b"), name("copy"), blobstore.GenerationMatch(attrs.Generation)))

		err = b.Copy(ctx, b, name("missing"), name("c"), blobstore.DoesNotExist())
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		upload(t, "c", []byte("c"))
		upload(t, "dir/x", []byte("x"))

		var all []string
		q := blobstore.ListQuery{Prefix: prefix, PageSize: 2}
		for {
			page, err := b.ListPage(ctx, q)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(page.Objects), 2)
			for _, o := range page.Objects {
				all = append(all, o.Name)
			}
			if page.NextPageToken == "" {
				break
			}
			q.PageToken = page.NextPageToken
		}
		assert.Subset(t, all, []string{name("a"), name("b"), name("c"), name("copy"), name("dir/x")})

		page, err := b.ListPage(ctx, blobstore.ListQuery{Prefix: prefix, Delimiter: "/"})
		require.NoError(t, err)
		var flat []string
		for _, o := range page.Objects {
			flat = append(flat, o.Name)
		}
		assert.Contains(t, flat, name("c"))
		assert.NotContains(t, flat, name("dir/x"))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, b.Delete(ctx, name("c")))
		_, err := b.Attrs(ctx, name("c"))
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}
