package cloudblob

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/cloudblob/blobstore"
)

// Logger wraps slog.Logger with cloudblob-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithProvider adds the provider name to every record.
func (l *Logger) WithProvider(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("provider", name),
	}
}

// LogWrite logs a blob write.
func (l *Logger) LogWrite(ctx context.Context, key string, size int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "write completed",
			"key", key,
			"size", size,
		)
	}
}

// LogRead logs a blob read.
func (l *Logger) LogRead(ctx context.Context, key string, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "read failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "read completed",
			"key", key,
			"found", found,
		)
	}
}

// LogDelete logs a blob delete.
func (l *Logger) LogDelete(ctx context.Context, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"key", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"key", key,
		)
	}
}

// LogCopy logs a copy or move from another provider.
func (l *Logger) LogCopy(ctx context.Context, key, source string, move, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "copy failed",
			"key", key,
			"source", source,
			"move", move,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "copy completed",
			"key", key,
			"source", source,
			"move", move,
			"found", found,
		)
	}
}

// LogGC logs the outcome of a sweep.
func (l *Logger) LogGC(ctx context.Context, id string, status blobstore.GCStatus, err error) {
	if err != nil {
		l.ErrorContext(ctx, "garbage collection failed",
			"gc", id,
			"removed", status.NumBinariesGC,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "garbage collection completed",
			"gc", id,
			"kept", status.NumBinaries,
			"kept_bytes", status.SizeBinaries,
			"removed", status.NumBinariesGC,
			"removed_bytes", status.SizeBinariesGC,
		)
	}
}
