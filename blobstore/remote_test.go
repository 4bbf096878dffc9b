package blobstore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cloudblob/internal/fs"
	"github.com/hupe1980/cloudblob/testutil"
)

func newTestStore(t *testing.T, backend Backend, optFns ...RemoteOption) (*RemoteStore, string) {
	t.Helper()
	tempDir := t.TempDir()
	cfg := Config{BucketPrefix: "binaries", ChunkSize: 1024}
	opts := append([]RemoteOption{WithTempDir(tempDir)}, optFns...)
	return NewRemoteStore(backend, cfg, opts...), tempDir
}

func writeBlob(t *testing.T, s BlobStore, b testutil.Blob) {
	t.Helper()
	key, err := s.WriteFile(context.Background(), b.Key, testutil.WriteFile(t, b.Data))
	require.NoError(t, err)
	require.Equal(t, b.Key, key)
}

func TestRemoteStore_WriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)
	blob := testutil.NewRNG(1).Blob(5000)

	writeBlob(t, s, blob)

	stats := backend.Stats()
	assert.Equal(t, 1, stats.Uploads)
	assert.Equal(t, int64(5000), stats.UploadedBytes)
	assert.Equal(t, 5, stats.Chunks)
	assert.Equal(t, []string{"binaries/" + blob.Key}, backend.Names())

	writeBlob(t, s, blob)
	assert.Equal(t, stats, backend.Stats(), "second write must not upload")

	ok, err := s.Exists(ctx, blob.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Length(ctx, blob.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), n)
}

func TestRemoteStore_WriteInvalidKey(t *testing.T) {
	s, _ := newTestStore(t, NewMemoryBackend("bucket"))
	path := testutil.WriteFile(t, []byte("x"))

	_, err := s.WriteFile(context.Background(), "abc;0-1", path)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.WriteFile(context.Background(), "", path)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRemoteStore_WriteUploadFailure(t *testing.T) {
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)
	boom := errors.New("boom")
	backend.InjectFault("upload", boom)

	blob := testutil.NewRNG(2).Blob(10)
	_, err := s.WriteFile(context.Background(), blob.Key, testutil.WriteFile(t, blob.Data))

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "write", opErr.Op)
	assert.Equal(t, blob.Key, opErr.Key)
	assert.ErrorIs(t, err, boom)
}

func TestRemoteStore_ReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemoryBackend("bucket"), WithDigestVerification())
	blob := testutil.NewRNG(3).Blob(3000)
	writeBlob(t, s, blob)

	dest := testutil.DestPath(t)
	ok, err := s.ReadBlob(ctx, blob.Key, dest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob.Data, testutil.ReadFile(t, dest))

	missing := testutil.DestPath(t)
	ok, err = s.ReadBlob(ctx, testutil.MD5([]byte("absent")), missing)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, missing)
}

func TestRemoteStore_ByteRange(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	blob := testutil.NewRNG(4).Blob(4096)

	s := NewRemoteStore(backend, Config{BucketPrefix: "p", AllowByteRange: true}, WithDigestVerification())
	writeBlob(t, s, blob)

	for _, r := range []ByteRange{{0, 0}, {0, 4095}, {100, 199}, {4000, 4095}} {
		dest := testutil.DestPath(t)
		ok, err := s.ReadBlob(ctx, KeyWithByteRange(blob.Key, r.Start, r.End), dest)
		require.NoError(t, err)
		require.True(t, ok)
		got := testutil.ReadFile(t, dest)
		assert.Len(t, got, int(r.Length()))
		assert.Equal(t, blob.Data[r.Start:r.End+1], got)
	}

	// Without the flag the suffix is part of the key.
	plain := NewRemoteStore(backend, Config{BucketPrefix: "p"})
	ok, err := plain.ReadBlob(ctx, KeyWithByteRange(blob.Key, 0, 9), testutil.DestPath(t))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteStore_DigestMismatch(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend, WithDigestVerification())

	key := testutil.MD5([]byte("expected"))
	backend.Put(s.ObjectName(key), []byte("tampered"))

	dest := testutil.DestPath(t)
	ok, err := s.ReadBlob(ctx, key, dest)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDigestMismatch)
	assert.NoFileExists(t, dest)

	// Keys that are not digests are not verified.
	backend.Put(s.ObjectName("not-a-digest"), []byte("anything"))
	ok, err = s.ReadBlob(ctx, "not-a-digest", testutil.DestPath(t))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemoteStore_ReadIntoFailingFile(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("dest", fs.Fault{FailAfterBytes: 10})
	s, _ := newTestStore(t, NewMemoryBackend("bucket"), WithFileSystem(ffs))

	blob := testutil.NewRNG(5).Blob(100)
	writeBlob(t, s, blob)

	dest := testutil.DestPath(t)
	ok, err := s.ReadBlob(context.Background(), blob.Key, dest)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.False(t, ok)
	// The partially written file is gone.
	assert.NoFileExists(t, dest)
	assert.Contains(t, ffs.Removed(), dest)
}

func TestRemoteStore_DirectCopy(t *testing.T) {
	ctx := context.Background()
	srcBackend := NewMemoryBackend("src")
	dstBackend := NewMemoryBackend("dst")
	src, _ := newTestStore(t, srcBackend)
	dst, _ := newTestStore(t, dstBackend)

	assert.True(t, dst.SupportsDirectCopyFrom(src))

	blobs := testutil.NewRNG(6).Blobs(2, 512)
	for _, b := range blobs {
		writeBlob(t, src, b)
	}

	ok, err := dst.CopyOrMove(ctx, blobs[0].Key, src, blobs[0].Key, false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = dst.CopyOrMove(ctx, blobs[1].Key, src, blobs[1].Key, true)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 2, dstBackend.Stats().Copies)
	assert.Equal(t, 0, dstBackend.Stats().Uploads, "direct copy must not upload")

	for _, b := range blobs {
		dest := testutil.DestPath(t)
		ok, err := dst.ReadBlob(ctx, b.Key, dest)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, b.Data, testutil.ReadFile(t, dest))
	}

	ok, err = src.Exists(ctx, blobs[0].Key)
	require.NoError(t, err)
	assert.True(t, ok, "copy keeps the source")

	ok, err = src.Exists(ctx, blobs[1].Key)
	require.NoError(t, err)
	assert.False(t, ok, "move deletes the source")
}

func TestRemoteStore_DirectCopyOverwritesWithGenerationMatch(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestStore(t, NewMemoryBackend("src"))
	dstBackend := NewMemoryBackend("dst")
	dst, _ := newTestStore(t, dstBackend)

	blob := testutil.NewRNG(7).Blob(64)
	writeBlob(t, src, blob)
	dstBackend.Put(dst.ObjectName(blob.Key), []byte("stale"))

	ok, err := dst.CopyOrMove(ctx, blob.Key, src, blob.Key, false)
	require.NoError(t, err)
	require.True(t, ok)

	dest := testutil.DestPath(t)
	_, err = dst.ReadBlob(ctx, blob.Key, dest)
	require.NoError(t, err)
	assert.Equal(t, blob.Data, testutil.ReadFile(t, dest))
}

func TestRemoteStore_DirectCopyMissingSource(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestStore(t, NewMemoryBackend("src"))
	dstBackend := NewMemoryBackend("dst")
	dst, tempDir := newTestStore(t, dstBackend)

	ok, err := dst.CopyOrMove(ctx, testutil.MD5([]byte("x")), src, testutil.MD5([]byte("x")), true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, MemoryStats{}, withoutLists(dstBackend.Stats()))
	assert.Empty(t, testutil.DirEntries(t, tempDir))
}

func withoutLists(s MemoryStats) MemoryStats {
	s.Lists = 0
	return s
}

func TestRemoteStore_DirectCopyHardFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
	}{
		{"precondition", ErrPreconditionFailed},
		{"transport", errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := newTestStore(t, NewMemoryBackend("src"))
			dstBackend := NewMemoryBackend("dst")
			dst, _ := newTestStore(t, dstBackend)

			blob := testutil.NewRNG(8).Blob(64)
			writeBlob(t, src, blob)
			dstBackend.InjectFault("copy", tt.err)

			ok, err := dst.CopyOrMove(ctx, blob.Key, src, blob.Key, true)
			assert.False(t, ok)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 0, dstBackend.Stats().Uploads, "no fallback after a hard failure")

			exists, err := src.Exists(ctx, blob.Key)
			require.NoError(t, err)
			assert.True(t, exists, "source kept on failure")
		})
	}
}

func TestRemoteStore_FallbackFromLocalStore(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	dstBackend := NewMemoryBackend("dst")
	dst, tempDir := newTestStore(t, dstBackend)

	assert.False(t, dst.SupportsDirectCopyFrom(local))

	blob := testutil.NewRNG(9).Blob(2048)
	writeBlob(t, local, blob)

	ok, err := dst.CopyOrMove(ctx, blob.Key, local, blob.Key, true)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 1, dstBackend.Stats().Uploads)
	assert.Empty(t, testutil.DirEntries(t, tempDir), "local files need no staging")

	ok, err = local.Exists(ctx, blob.Key)
	require.NoError(t, err)
	assert.False(t, ok)

	dest := testutil.DestPath(t)
	_, err = dst.ReadBlob(ctx, blob.Key, dest)
	require.NoError(t, err)
	assert.Equal(t, blob.Data, testutil.ReadFile(t, dest))
}

func TestRemoteStore_FallbackFromOtherKind(t *testing.T) {
	ctx := context.Background()
	other, _ := newTestStore(t, NewMemoryBackend("other", WithMemoryKind("othercloud")))
	dstBackend := NewMemoryBackend("dst")
	dst, tempDir := newTestStore(t, dstBackend)

	assert.False(t, dst.SupportsDirectCopyFrom(other))

	blob := testutil.NewRNG(10).Blob(1500)
	writeBlob(t, other, blob)

	ok, err := dst.CopyOrMove(ctx, blob.Key, other, blob.Key, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, dstBackend.Stats().Uploads)
	assert.Empty(t, testutil.DirEntries(t, tempDir))

	ok, err = dst.CopyOrMove(ctx, "missing", other, "missing", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, testutil.DirEntries(t, tempDir))
}

func TestRemoteStore_FallbackCleansTempOnFailure(t *testing.T) {
	ctx := context.Background()
	other, _ := newTestStore(t, NewMemoryBackend("other", WithMemoryKind("othercloud")))
	dstBackend := NewMemoryBackend("dst")
	dst, tempDir := newTestStore(t, dstBackend)

	blob := testutil.NewRNG(11).Blob(100)
	writeBlob(t, other, blob)

	boom := errors.New("boom")
	dstBackend.InjectFault("upload", boom)

	ok, err := dst.CopyOrMove(ctx, blob.Key, other, blob.Key, true)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, testutil.DirEntries(t, tempDir))

	exists, err := other.Exists(ctx, blob.Key)
	require.NoError(t, err)
	assert.True(t, exists, "move must not delete the source on failure")
}

func TestRemoteStore_TempCleanupFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("bin_", fs.Fault{FailAfterBytes: -1, FailOnRemove: true})

	other, _ := newTestStore(t, NewMemoryBackend("other", WithMemoryKind("othercloud")))
	dst, tempDir := newTestStore(t, NewMemoryBackend("dst"), WithFileSystem(ffs), WithLogger(logger))

	blob := testutil.NewRNG(12).Blob(100)
	writeBlob(t, other, blob)

	ok, err := dst.CopyOrMove(ctx, blob.Key, other, blob.Key, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, logs.String(), "failed to remove temporary file")

	entries := testutil.DirEntries(t, tempDir)
	require.Len(t, entries, 1)
	require.NoError(t, os.Remove(filepath.Join(tempDir, entries[0])))
}

func TestRemoteStore_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)

	blobs := testutil.NewRNG(13).Blobs(3, 10)
	for _, b := range blobs {
		writeBlob(t, s, b)
	}
	backend.Put("elsewhere/object", []byte("x"))

	require.NoError(t, s.DeleteBlob(ctx, blobs[0].Key))
	require.NoError(t, s.DeleteBlob(ctx, blobs[0].Key), "delete is idempotent")

	ok, err := s.Exists(ctx, blobs[0].Key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, backend.Names())
}

func TestRemoteStore_Accessors(t *testing.T) {
	backend := NewMemoryBackend("bucket")
	s := NewRemoteStore(backend, Config{BucketPrefix: "a//"}, WithName("default"))

	assert.Equal(t, "default", s.Name())
	assert.Equal(t, "a/", s.Prefix())
	assert.Equal(t, "a/k", s.ObjectName("k"))
	assert.Same(t, backend, s.Backend())
	assert.False(t, s.HasVersioning())
	assert.Equal(t, BlobStore(s), s.Unwrap())
	assert.Same(t, s.GarbageCollector(), s.GarbageCollector())
}
