package gcs

import (
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/hupe1980/cloudblob/blobstore"
)

// Property names specific to Google Cloud Storage.
const (
	PropProject     = "project"
	PropCredentials = "credentials"
	PropEndpoint    = "endpoint"
)

// ConfDirProperty names the configuration directory relative credential
// paths are resolved against. The environment fallback is CLOUDBLOB_CONF_DIR.
const ConfDirProperty = "cloudblob.conf.dir"

// DefaultCredentialsFile is used when no credentials property is set.
const DefaultCredentialsFile = "gcp-credentials.json"

// SystemPrefix is the fallback prefix for GCS properties.
const SystemPrefix = "cloudblob.gcs"

// Scopes requested for the service account.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	storage.ScopeReadWrite,
}

// Config holds the GCS connection settings.
type Config struct {
	Bucket          string
	Project         string
	CredentialsPath string
	// Endpoint overrides the storage API endpoint, e.g. for an emulator.
	Endpoint string
}

// ParseConfig reads the GCS settings from props with the default fallback.
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
	if cfg.Project, err = r.Required(PropProject); err != nil {
		return Config{}, err
	}

	cfg.CredentialsPath = r.String(PropCredentials, DefaultCredentialsFile)
	if !filepath.IsAbs(cfg.CredentialsPath) {
		if dir := r.System(ConfDirProperty); dir != "" {
			cfg.CredentialsPath = filepath.Join(dir, cfg.CredentialsPath)
		}
	}

	cfg.Endpoint = r.Get(PropEndpoint)

	return cfg, nil
}
