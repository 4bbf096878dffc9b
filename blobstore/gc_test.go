package blobstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cloudblob/testutil"
)

func TestGarbageCollector_MarkAllKeepsEverything(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)

	blobs := testutil.NewRNG(20).Blobs(5, 100)
	var total int64
	for _, b := range blobs {
		writeBlob(t, s, b)
		total += int64(len(b.Data))
	}

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))
	assert.Equal(t, GCStatus{NumBinaries: 5, SizeBinaries: total}, gc.Status())

	for _, b := range blobs {
		require.NoError(t, gc.Mark(b.Key))
	}

	status, err := gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, GCStatus{NumBinaries: 5, SizeBinaries: total}, status)
	assert.Equal(t, GCDone, gc.State())
	assert.Len(t, backend.Names(), 5)
}

func TestGarbageCollector_CollectsUnmarked(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)

	rng := testutil.NewRNG(21)
	k1, k2 := rng.Blob(100), rng.Blob(250)
	writeBlob(t, s, k1)
	writeBlob(t, s, k2)

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))
	require.NoError(t, gc.Mark(k1.Key))

	unmarked, err := gc.UnmarkedBlobs()
	require.NoError(t, err)
	assert.Equal(t, []string{k2.Key}, unmarked)

	status, err := gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, GCStatus{
		NumBinaries:    1,
		SizeBinaries:   100,
		NumBinariesGC:  1,
		SizeBinariesGC: 250,
	}, status)

	ok, err := s.Exists(ctx, k1.Key)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Exists(ctx, k2.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGarbageCollector_DryRun(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)

	blob := testutil.NewRNG(22).Blob(42)
	writeBlob(t, s, blob)

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))
	status, err := gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.NumBinariesGC)
	assert.Equal(t, int64(42), status.SizeBinariesGC)
	assert.Equal(t, 0, backend.Stats().Deletes)
}

func TestGarbageCollector_SkipsForeignKeys(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)

	digestKey := testutil.MD5([]byte("real"))
	backend.Put(s.ObjectName(digestKey), []byte("real"))
	backend.Put(s.ObjectName("README"), []byte("not a digest"))
	backend.Put(s.ObjectName("sub/"+testutil.MD5([]byte("nested"))), []byte("nested"))
	backend.Put(testutil.MD5([]byte("outside")), []byte("outside the prefix"))

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))

	unmarked, err := gc.UnmarkedBlobs()
	require.NoError(t, err)
	assert.Equal(t, []string{digestKey}, unmarked)

	_, err = gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	require.NoError(t, err)
	assert.Len(t, backend.Names(), 3)
}

func TestGarbageCollector_SkipsVanishedKeys(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)

	blobs := testutil.NewRNG(23).Blobs(2, 10)
	for _, b := range blobs {
		writeBlob(t, s, b)
	}

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))
	require.NoError(t, s.DeleteBlob(ctx, blobs[0].Key))

	status, err := gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.NumBinariesGC)
	assert.Equal(t, int64(1), status.NumBinaries, "vanished keys are skipped, not counted")
}

func TestGarbageCollector_StateMachine(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemoryBackend("bucket"))
	gc := s.GarbageCollector()

	assert.Equal(t, GCIdle, gc.State())
	assert.ErrorIs(t, gc.Mark("k"), ErrInvalidGCState)
	_, err := gc.UnmarkedBlobs()
	assert.ErrorIs(t, err, ErrInvalidGCState)
	_, err = gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	assert.ErrorIs(t, err, ErrInvalidGCState)

	require.NoError(t, gc.ComputeToDelete(ctx))
	assert.Equal(t, GCMarking, gc.State())
	require.NoError(t, gc.Mark("k"))

	_, err = gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, GCDone, gc.State())

	assert.ErrorIs(t, gc.Mark("k"), ErrInvalidGCState)
	_, err = gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	assert.ErrorIs(t, err, ErrInvalidGCState)

	// A new run starts from Done.
	require.NoError(t, gc.ComputeToDelete(ctx))
	assert.Equal(t, GCMarking, gc.State())
	assert.Equal(t, "marking", gc.State().String())
}

func TestGarbageCollector_ComputeFailureRestoresState(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)
	gc := s.GarbageCollector()

	boom := errors.New("boom")
	backend.InjectFault("list", boom)
	assert.ErrorIs(t, gc.ComputeToDelete(ctx), boom)
	assert.Equal(t, GCIdle, gc.State())
}

func TestGarbageCollector_DeleteFailuresAreJoined(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)

	blobs := testutil.NewRNG(24).Blobs(3, 10)
	for _, b := range blobs {
		writeBlob(t, s, b)
	}

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))

	boom := errors.New("boom")
	backend.InjectFault("delete", boom)

	status, err := gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(3), status.NumBinariesGC)
	assert.Len(t, backend.Names(), 1, "the sweep continues past a failed delete")
}

func TestGarbageCollector_ConcurrentMark(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, NewMemoryBackend("bucket"))

	blobs := testutil.NewRNG(25).Blobs(64, 8)
	for _, b := range blobs {
		writeBlob(t, s, b)
	}

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))

	var wg sync.WaitGroup
	for _, b := range blobs {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			assert.NoError(t, gc.Mark(key))
		}(b.Key)
	}
	wg.Wait()

	unmarked, err := gc.UnmarkedBlobs()
	require.NoError(t, err)
	assert.Empty(t, unmarked)
}

func TestGarbageCollector_ID(t *testing.T) {
	s := NewRemoteStore(NewMemoryBackend("bucket"), Config{BucketPrefix: "bin"})
	assert.Equal(t, "memory:bucket/bin/", s.GarbageCollector().ID())
}

func TestGarbageCollector_DeleteRate(t *testing.T) {
	backend := NewMemoryBackend("bucket")
	s := NewRemoteStore(backend, Config{GCDeleteRate: 0.001})

	blobs := testutil.NewRNG(26).Blobs(3, 10)
	for _, b := range blobs {
		writeBlob(t, s, b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))

	// The first delete uses the burst; the second would wait far past the deadline.
	_, err := gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	assert.Error(t, err)
	assert.Equal(t, 1, backend.Stats().Deletes)
	assert.Equal(t, GCDone, gc.State())
}

func TestGarbageCollector_CanceledSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := NewMemoryBackend("bucket")
	s, _ := newTestStore(t, backend)
	writeBlob(t, s, testutil.NewRNG(27).Blob(10))

	gc := s.GarbageCollector()
	require.NoError(t, gc.ComputeToDelete(ctx))

	cancel()
	_, err := gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, backend.Stats().Deletes)
}
