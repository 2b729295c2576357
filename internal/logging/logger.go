// Package logging builds the structured logger used across the bridge.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/config"
)

// New creates and configures the structured logger based on configuration.
// stdout and stderr stand in for the process streams; a file output is opened
// for appending and released by the returned close function.
func New(cfg config.LoggingConfig, stdout, stderr io.Writer) (*slog.Logger, func() error) {
	level := ParseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	closeFn := func() error { return nil }

	var output io.Writer
	switch cfg.Output {
	case "stderr", "":
		output = stderr
	case "stdout":
		output = stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = stderr
		} else {
			output = file
			closeFn = file.Close
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), closeFn
}

// ParseLevel maps a configured level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a logger that tags every record with the component name
func Component(base *slog.Logger, component string) *slog.Logger {
	return base.With(slog.String("component", component))
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
