// Package logging builds the process-wide slog logger: human-readable
// text on stderr, optionally mirrored into a size-rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// File enables a rotating log file when non-empty.
	File string
	// Quiet drops the stderr sink, keeping only the file one.
	Quiet bool
}

// Setup builds a logger and installs it as the slog default. The
// returned closer flushes the rotating sink; call it on shutdown.
func Setup(opts Options) (*slog.Logger, func() error) {
	var sinks []io.Writer
	closer := func() error { return nil }

	if !opts.Quiet {
		sinks = append(sinks, os.Stderr)
	}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}
		sinks = append(sinks, rotated)
		closer = rotated.Close
	}
	if len(sinks) == 0 {
		sinks = append(sinks, io.Discard)
	}

	handler := slog.NewTextHandler(io.MultiWriter(sinks...), &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer
}

func parseLevel(level string) slog.Level {
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
