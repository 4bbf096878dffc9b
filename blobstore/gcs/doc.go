// Package gcs provides the Google Cloud Storage backend.
//
// Uploads use resumable sessions with a configurable chunk size and a
// client-side CRC32C. Copies are server-side rewrites guarded by generation
// preconditions, so a concurrent writer of the destination is detected.
//
//	cfg, err := gcs.ParseConfig(props)
//	backend, err := gcs.New(ctx, cfg)
//	store := blobstore.NewRemoteStore(backend, storeCfg)
package gcs
