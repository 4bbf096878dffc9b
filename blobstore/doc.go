// Package blobstore implements content-addressed blob storage on object
// storage services.
//
// Blobs are immutable and keyed by the digest of their content, so a write
// of a key already present is skipped and copies never conflict on content.
//
// # Layers
//
//   - [Backend]: transport to one bucket (GCS, S3, MinIO, memory)
//   - [RemoteStore]: the [BlobStore] over a Backend, with chunked uploads,
//     byte-range reads and server-side copies
//   - [CachingStore]: a local disk cache in front of any BlobStore
//   - [LocalStore]: a plain directory, for local sources and destinations
//
// # Garbage Collection
//
// [GarbageCollector] implements mark and sweep over the remote listing:
//
//	gc := store.GarbageCollector()
//	if err := gc.ComputeToDelete(ctx); err != nil {
//	    return err
//	}
//	for _, key := range referenced {
//	    _ = gc.Mark(key)
//	}
//	status, err := gc.RemoveUnmarkedBlobsAndUpdateStatus(ctx, true)
//
// The collector does not lock the bucket. Callers must stop writers for
// the duration of a run.
//
// # Listing
//
// [Scroll] pages through every key under the store prefix:
//
//	sc := store.NewScroll(1000)
//	for sc.HasNext() {
//	    page, err := sc.Next(ctx)
//	    ...
//	}
package blobstore
