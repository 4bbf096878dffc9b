// Package minio provides a backend using the MinIO client.
//
// It works with MinIO and other S3-compatible systems such as Ceph,
// SeaweedFS and Garage, without the AWS SDK.
//
// # Basic Usage
//
//	backend, err := minio.New(ctx, minio.Config{
//	    Bucket:    "blobs",
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := blobstore.NewRemoteStore(backend, cfg)
package minio
