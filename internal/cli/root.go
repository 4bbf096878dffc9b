// Package cli implements the blobctl command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/cloudblob"
	"github.com/hupe1980/cloudblob/blobstore"
)

// openFunc opens a provider. Tests replace it to inject a backend.
type openFunc func(ctx context.Context, name string, props blobstore.Properties, optFns ...cloudblob.Option) (*cloudblob.Provider, error)

type app struct {
	open openFunc

	cfgFile  string
	props    []string
	name     string
	logLevel string
}

// NewRootCommand creates the root cobra command
func NewRootCommand(version, commit, date string) *cobra.Command {
	root := newRootCommand(&app{open: cloudblob.Open})
	root.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	return root
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blobctl",
		Short: "Content-addressed blob store CLI",
		Long: `blobctl writes, reads, lists, exports and garbage collects blobs
in a content-addressed cloud blob store (GCS, S3, MinIO).

Store properties come from a YAML file (--config), from --prop overrides,
and from CLOUDBLOB_<TYPE>_<PROPERTY> environment variables.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML property file")
	rootCmd.PersistentFlags().StringArrayVarP(&a.props, "prop", "p", nil, "property override as key=value (repeatable)")
	rootCmd.PersistentFlags().StringVar(&a.name, "name", "default", "provider name")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPutCommand(a))
	rootCmd.AddCommand(newGetCommand(a))
	rootCmd.AddCommand(newListCommand(a))
	rootCmd.AddCommand(newGCCommand(a))
	rootCmd.AddCommand(newExportCommand(a))

	return rootCmd
}

// properties merges the property file with --prop overrides.
func (a *app) properties() (blobstore.Properties, error) {
	props := blobstore.Properties{}
	if a.cfgFile != "" {
		loaded, err := blobstore.LoadProperties(a.cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		props = loaded
	}

	for _, kv := range a.props {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --prop %q: want key=value", kv)
		}
		props[k] = v
	}
	return props, nil
}

// provider opens the configured provider. The caller closes it.
func (a *app) provider(ctx context.Context) (*cloudblob.Provider, error) {
	props, err := a.properties()
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
	}

	return a.open(ctx, a.name, props, cloudblob.WithLogLevel(level))
}
