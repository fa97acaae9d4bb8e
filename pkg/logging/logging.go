// Package logging builds the slog logger used by the authcore binaries.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// New returns a logger writing to w in the given format: "json", "tint"
// (colored, for terminals) or "text".
func New(w io.Writer, format, level string) *slog.Logger {
	lvl := ParseLevel(level)
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: lvl})
	case "tint":
		handler = tint.NewHandler(w, &tint.Options{AddSource: true, Level: lvl, TimeFormat: time.Kitchen})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{AddSource: true, Level: lvl})
	}
	return slog.New(handler)
}
