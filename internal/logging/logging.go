// Package logging configures log/slog for the server and the CLI and carries
// per-import loggers through a context.
//
// Request-scoped loggers pick up chi's request id; import-scoped loggers add
// import_id, file and spec so every line of one import can be correlated.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type loggerKey struct{}

// Setup configures the global slog logger to write to stderr.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	slog.SetDefault(New(os.Stderr, level, format))
}

// New builds a logger writing to w with the given level and format.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the logger stored by NewContext, or the default logger.
// A chi request id in ctx is added as request_id.
//
// Usage:
//
//	logger := logging.FromContext(ctx)
//	logger.Debug("columns mapped", "columns", n)
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if ok {
		return logger
	}

	logger = slog.Default()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// NewContext returns a copy of ctx that carries logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	logger := logging.WithFields(ctx,
//	    "import_id", importID,
//	    "spec", specKey,
//	)
//	ctx = logging.NewContext(ctx, logger)
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
