// Package log configures the default slog logger from the client settings.
package log

import (
	"fmt"
	"log/slog"
	"os"
)

func Setup(logLevel string, logFile string) error {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level '%s'", logLevel)
	}

	out := os.Stderr

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}

		out = f
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	})))

	return nil
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
