package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/cloudblob/internal/digest"
)

// Property names understood by ParseConfig.
const (
	PropType           = "type"
	PropBucket         = "bucket"
	PropBucketPrefix   = "bucket_prefix"
	PropNamespace      = "namespace"
	PropChunkSize      = "storage.upload.chunk.size"
	PropAllowByteRange = "allowByteRange"
	PropNoCache        = "nocache"
	PropKeyStrategy    = "keyStrategy"
	PropDigest         = "digest"
	PropCacheDir       = "cachedir"
	PropCacheSize      = "cachesize"
	PropUploadRate     = "upload.rate"
	PropGCDeleteRate   = "gc.delete.rate"
)

// KeyStrategyDigest is the only supported key strategy.
const KeyStrategyDigest = "digest"

// DefaultCacheSize bounds the local disk cache when cachesize is not set.
const DefaultCacheSize = 1 << 30

// Properties is a flat property bag as found in deployment configuration.
type Properties map[string]string

// LoadProperties reads a YAML mapping of property names to scalar values.
func LoadProperties(path string) (Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProperty, path, err)
	}

	props := make(Properties, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
			props[k] = ""
		case string:
			props[k] = v
		case bool, int, int64, uint64, float64:
			props[k] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("%w: %s: %q is not a scalar", ErrInvalidProperty, path, k)
		}
	}
	return props, nil
}

// Resolver reads properties, falling back to a system lookup of
// "<systemPrefix>.<key>" when a key is absent or empty.
type Resolver struct {
	props        Properties
	systemPrefix string
	lookup       func(string) (string, bool)
}

// Resolver returns a Resolver whose fallback reads environment variables.
func (p Properties) Resolver(systemPrefix string) Resolver {
	return Resolver{props: p, systemPrefix: systemPrefix, lookup: EnvLookup}
}

// WithLookup replaces the system lookup.
func (r Resolver) WithLookup(fn func(string) (string, bool)) Resolver {
	r.lookup = fn
	return r
}

// EnvLookup maps a dotted property name to an environment variable by
// upper-casing it and replacing dots and dashes with underscores, so
// "cloudblob.gcs.bucket" reads CLOUDBLOB_GCS_BUCKET.
func EnvLookup(name string) (string, bool) {
	return os.LookupEnv(EnvName(name))
}

// EnvName returns the environment variable consulted for a property name.
func EnvName(name string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
}

// Get returns the value of key, or "" when neither source has it.
func (r Resolver) Get(key string) string {
	if v := strings.TrimSpace(r.props[key]); v != "" {
		return v
	}
	if r.lookup == nil || r.systemPrefix == "" {
		return ""
	}
	v, _ := r.lookup(r.systemPrefix + "." + key)
	return strings.TrimSpace(v)
}

// System returns a process-wide setting that is not scoped to a store:
// the property named exactly name, else the system lookup of name.
func (r Resolver) System(name string) string {
	if v := strings.TrimSpace(r.props[name]); v != "" {
		return v
	}
	if r.lookup == nil {
		return ""
	}
	v, _ := r.lookup(name)
	return strings.TrimSpace(v)
}

// String returns the value of key or def.
func (r Resolver) String(key, def string) string {
	if v := r.Get(key); v != "" {
		return v
	}
	return def
}

// Required returns the value of key or ErrMissingProperty.
func (r Resolver) Required(key string) (string, error) {
	v := r.Get(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingProperty, key)
	}
	return v, nil
}

// Bool parses key as a boolean.
func (r Resolver) Bool(key string, def bool) (bool, error) {
	v := r.Get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidProperty, key, v)
	}
	return b, nil
}

// Float parses key as a non-negative number.
func (r Resolver) Float(key string, def float64) (float64, error) {
	v := r.Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidProperty, key, v)
	}
	return f, nil
}

// Bytes parses key as a byte size. Plain integers and humanized sizes such
// as "2MiB" or "100 MB" are accepted.
func (r Resolver) Bytes(key string, def int64) (int64, error) {
	v := r.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil || n > uint64(1<<62) {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidProperty, key, v)
	}
	return int64(n), nil
}

// Config is the parsed store configuration.
type Config struct {
	Type   string
	Bucket string
	// BucketPrefix is normalized and includes the namespace, if any.
	BucketPrefix   string
	Namespace      string
	ChunkSize      int
	AllowByteRange bool
	NoCache        bool
	KeyStrategy    string
	Digest         digest.Algorithm
	CacheDir       string
	CacheSize      int64
	// UploadRate caps upload bytes per second; zero is unlimited.
	UploadRate int64
	// GCDeleteRate caps garbage collector deletes per second; zero is unlimited.
	GCDeleteRate float64
}

// ParseConfig reads the backend-independent store configuration.
func ParseConfig(props Properties, systemPrefix string) (Config, error) {
	return parseConfig(props.Resolver(systemPrefix))
}

// ParseConfigWith is ParseConfig with an explicit resolver.
func ParseConfigWith(r Resolver) (Config, error) {
	return parseConfig(r)
}

func parseConfig(r Resolver) (Config, error) {
	var (
		cfg Config
		err error
	)

	cfg.Type = strings.ToLower(r.String(PropType, "gcs"))

	if cfg.Bucket, err = r.Required(PropBucket); err != nil {
		return Config{}, err
	}

	cfg.Namespace = r.Get(PropNamespace)
	cfg.BucketPrefix = JoinPrefix(r.Get(PropBucketPrefix), cfg.Namespace)

	chunk, err := r.Bytes(PropChunkSize, DefaultChunkSize)
	if err != nil {
		return Config{}, err
	}
	if chunk <= 0 || chunk > 1<<31-1 {
		return Config{}, fmt.Errorf("%w: %s must be positive", ErrInvalidProperty, PropChunkSize)
	}
	cfg.ChunkSize = int(chunk)

	if cfg.AllowByteRange, err = r.Bool(PropAllowByteRange, false); err != nil {
		return Config{}, err
	}
	if cfg.NoCache, err = r.Bool(PropNoCache, false); err != nil {
		return Config{}, err
	}

	cfg.KeyStrategy = r.String(PropKeyStrategy, KeyStrategyDigest)

	if cfg.Digest, err = digest.Parse(r.Get(PropDigest)); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidProperty, PropDigest, err)
	}

	cfg.CacheDir = r.String(PropCacheDir, filepath.Join(os.TempDir(), "cloudblob-cache"))
	if cfg.CacheSize, err = r.Bytes(PropCacheSize, DefaultCacheSize); err != nil {
		return Config{}, err
	}

	if cfg.UploadRate, err = r.Bytes(PropUploadRate, 0); err != nil {
		return Config{}, err
	}
	if cfg.GCDeleteRate, err = r.Float(PropGCDeleteRate, 0); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// SystemPrefix returns the fallback property prefix for a backend type.
func SystemPrefix(backendType string) string {
	return "cloudblob." + strings.ToLower(backendType)
}
