// Package logging builds the process-wide slog logger and provides a
// size-rotating file writer for deployments that log to disk.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/salephoto/genflow-core/internal/config"
)

// Setup builds the process-wide JSON logger from configuration. When the
// output is a file path it is wrapped in a RotatingWriter; the returned
// closer is non-nil in that case and must be closed on shutdown.
func Setup(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var w io.Writer
	var closer io.Closer

	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		rw, err := NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log output: %w", err)
		}
		w = rw
		closer = rw
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}))
	return logger, closer, nil
}

// ParseLevel converts a config level string to a slog.Level, defaulting
// to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
