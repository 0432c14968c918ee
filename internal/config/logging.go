package config

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger writing to stderr. Verbose runs
// log at debug level; otherwise the level comes from LOG_LEVEL (default info).
func NewLogger(verbose bool) *slog.Logger {
	level := GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
