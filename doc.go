// Package cloudblob stores immutable binaries in cloud object storage under
// the digest of their content.
//
// A Provider is configured from a flat property bag, the way a deployment
// declares blob providers. Google Cloud Storage is the default backend;
// Amazon S3 and MinIO are selected with the "type" property.
//
// # Quick Start
//
//	ctx := context.Background()
//	p, err := cloudblob.Open(ctx, "default", blobstore.Properties{
//	    "bucket":        "my-binaries",
//	    "bucket_prefix": "prod",
//	    "project":       "my-project",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	key, _ := p.WriteBlob(ctx, strings.NewReader("hello"))  // MD5 of the content
//	found, _ := p.ReadBlob(ctx, key, "/tmp/hello.txt")
//
// Writing the same content twice uploads it once. Reads go through a local
// disk cache unless "nocache" is set.
//
// # Garbage Collection
//
// Blobs no longer referenced are removed by mark and sweep:
//
//	status, err := p.CollectGarbage(ctx, func(gc *blobstore.GarbageCollector) error {
//	    for _, key := range referencedKeys {
//	        if err := gc.Mark(key); err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	}, true)
//
// The collector takes no lock on the bucket. Callers must keep writers
// away from the store between listing and sweeping.
//
// # Properties
//
// Every property falls back to an environment variable derived from
// "cloudblob.<type>.<name>", so "bucket" of a GCS provider can be set with
// CLOUDBLOB_GCS_BUCKET.
package cloudblob
