package cloudblob

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/cloudblob/blobstore"
	"github.com/hupe1980/cloudblob/blobstore/gcs"
	"github.com/hupe1980/cloudblob/blobstore/minio"
	"github.com/hupe1980/cloudblob/blobstore/s3"
)

// Backend types accepted by the "type" property.
const (
	TypeGCS    = gcs.Kind
	TypeS3     = s3.Kind
	TypeMinIO  = minio.Kind
	TypeMemory = blobstore.MemoryKind
)

// newBackend builds the backend named by typ. The returned closer is nil
// when the backend holds no resources.
func newBackend(ctx context.Context, typ string, cfg blobstore.Config, r blobstore.Resolver) (blobstore.Backend, io.Closer, error) {
	switch typ {
	case TypeGCS:
		gcsCfg, err := gcs.ParseConfigWith(r)
		if err != nil {
			return nil, nil, err
		}
		b, err := gcs.New(ctx, gcsCfg)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case TypeS3:
		opts, err := s3.OptionsFrom(r)
		if err != nil {
			return nil, nil, err
		}
		b, err := s3.New(ctx, cfg.Bucket, opts...)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	case TypeMinIO:
		minioCfg, err := minio.ParseConfigWith(r)
		if err != nil {
			return nil, nil, err
		}
		b, err := minio.New(ctx, minioCfg)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	case TypeMemory:
		// Volatile; for demos and tests.
		return blobstore.NewMemoryBackend(cfg.Bucket), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, typ)
	}
}
