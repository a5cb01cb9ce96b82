// Package log configures the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
)

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(logLevel string) slog.Level {
	switch logLevel {
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

// Setup installs a text handler on stderr as the default logger and returns
// it for explicit injection into components.
func Setup(logLevel string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	}))
	slog.SetDefault(logger)

	return logger
}

// WithModule derives a logger tagged with the component name.
func WithModule(logger *slog.Logger, module string) *slog.Logger {
	return logger.With("module", module)
}
