package minio

import "github.com/hupe1980/cloudblob/blobstore"

// Property names specific to MinIO.
const (
	PropEndpoint  = "endpoint"
	PropAccessKey = "accessKey"
	PropSecretKey = "secretKey"
	PropSecure    = "secure"
	PropRegion    = "region"
)

// SystemPrefix is the fallback prefix for MinIO properties.
const SystemPrefix = "cloudblob.minio"

// Config holds the MinIO connection settings.
type Config struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
}

// ParseConfig reads the MinIO settings from props with the default fallback.
func ParseConfig(props blobstore.Properties) (Config, error) {
	return ParseConfigWith(props.Resolver(SystemPrefix))
}

// ParseConfigWith is ParseConfig with an explicit resolver.
func ParseConfigWith(r blobstore.Resolver) (Config, error) {
	var (
		cfg Config
		err error
	)

	if cfg.Bucket, err = r.Required(blobstore.PropBucket); err != nil {
		return Config{}, err
	}
	if cfg.Endpoint, err = r.Required(PropEndpoint); err != nil {
		return Config{}, err
	}
	if cfg.Secure, err = r.Bool(PropSecure, false); err != nil {
		return Config{}, err
	}

	cfg.AccessKey = r.Get(PropAccessKey)
	cfg.SecretKey = r.Get(PropSecretKey)
	cfg.Region = r.Get(PropRegion)

	return cfg, nil
}
