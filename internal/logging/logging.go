// Package logging builds the controller's structured logger, keeping the
// teacher's level/format switch and layering in an optional file sink.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New builds a slog.Logger writing text or JSON records to stderr, and
// additionally to logFile when non-empty.
func New(level, format, logFile string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if logFile != "" {
		if f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			w = io.MultiWriter(os.Stderr, f)
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
