package s3

import "github.com/hupe1980/cloudblob/blobstore"

// Property names specific to S3.
const (
	PropRegion    = "region"
	PropEndpoint  = "endpoint"
	PropPathStyle = "pathstyle"
)

// SystemPrefix is the fallback prefix for S3 properties.
const SystemPrefix = "cloudblob.s3"

type options struct {
	region       string
	endpoint     string
	usePathStyle bool
}

// Option configures New.
type Option func(*options)

// WithRegion overrides the region of the default AWS configuration.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithEndpoint points the client at an S3-compatible endpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithUsePathStyle addresses buckets by path instead of virtual host.
func WithUsePathStyle(enabled bool) Option {
	return func(o *options) {
		o.usePathStyle = enabled
	}
}

// OptionsFrom reads region, endpoint and pathstyle from r.
func OptionsFrom(r blobstore.Resolver) ([]Option, error) {
	pathStyle, err := r.Bool(PropPathStyle, false)
	if err != nil {
		return nil, err
	}

	var opts []Option
	if region := r.Get(PropRegion); region != "" {
		opts = append(opts, WithRegion(region))
	}
	if endpoint := r.Get(PropEndpoint); endpoint != "" {
		opts = append(opts, WithEndpoint(endpoint))
	}
	if pathStyle {
		opts = append(opts, WithUsePathStyle(true))
	}
	return opts, nil
}
