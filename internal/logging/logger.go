// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	return NewLoggerTo(os.Stdout, env)
}

// NewLoggerTo is NewLogger writing to w. Used by tests to capture output.
func NewLoggerTo(w io.Writer, env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
