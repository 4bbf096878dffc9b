package cloudblob

import (
	"log/slog"

	"github.com/hupe1980/cloudblob/blobstore"
	"github.com/hupe1980/cloudblob/internal/fs"
)

type options struct {
	backend          blobstore.Backend
	lookup           func(string) (string, bool)
	metricsCollector MetricsCollector
	logger           *Logger
	fs               fs.FileSystem
	tempDir          string
	verifyDigests    bool
}

// Option configures Open.
type Option func(*options)

// WithBackend uses b instead of building a backend from the "type"
// property. The provider does not close b.
//
// Example:
//
//	backend := blobstore.NewMemoryBackend("test")
//	p, _ := cloudblob.Open(ctx, "test", props, cloudblob.WithBackend(backend))
func WithBackend(b blobstore.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithLookup replaces the system property fallback, which reads
// environment variables by default.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *options) {
		o.lookup = fn
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &cloudblob.BasicMetricsCollector{}
//	p, _ := cloudblob.Open(ctx, "default", props, cloudblob.WithMetricsCollector(metrics))
//	// ... use p ...
//	stats := metrics.GetStats()
//	fmt.Printf("Writes: %d, Avg latency: %dns\n", stats.WriteCount, stats.WriteAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := cloudblob.NewJSONLogger(slog.LevelInfo)
//	p, _ := cloudblob.Open(ctx, "default", props, cloudblob.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithTempDir sets where uploads are spooled. The default is the system
// temporary directory.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.tempDir = dir
	}
}

// WithDigestVerification verifies the content digest of every full
// download.
func WithDigestVerification() Option {
	return func(o *options) {
		o.verifyDigests = true
	}
}

func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		lookup:           blobstore.EnvLookup,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fs:               fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
