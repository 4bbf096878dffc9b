// Package s3 provides the Amazon S3 backend.
//
// # Usage
//
//	backend, err := s3.New(ctx, "my-bucket",
//	    s3.WithRegion("eu-central-1"),
//	)
//	store := blobstore.NewRemoteStore(backend, cfg)
//
// Uploads use the multipart upload manager with CRC32C checksums. Listings
// page with ListObjectsV2 continuation tokens.
package s3
