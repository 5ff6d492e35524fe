package util

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger sets the process-wide slog logger. Output is JSON lines so a
// breach-window log extract can be attached to incident evidence as-is.
// Unknown or empty levels fall back to info; source locations are only
// emitted at debug.
func InitLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}))
	slog.SetDefault(logger)
	return logger
}
