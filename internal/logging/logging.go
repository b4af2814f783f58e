// Package logging builds the slog loggers used by procwatch binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Config selects the handler and minimum level.
type Config struct {
	Level  string // debug|info|warn|error, default info
	Format string // text|json, default text
}

// New returns a logger writing to w. Every record carries the service name
// and build version.
func New(w io.Writer, cfg Config, service, version string) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})
	return slog.New(handler), nil
}

// ParseLevel maps a level name to a slog.Level. Empty selects info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
