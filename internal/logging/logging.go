package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New initializes a new slog logger and sets it as the default.
// It reads LOG_FORMAT ("text" for development, "json" for production) and
// LOG_LEVEL (debug, info, warn, error; defaults to info).
func New() *slog.Logger {
	return NewWith(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
}

// NewWith is New with explicit settings, used when config has already been loaded.
func NewWith(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		opts.AddSource = true // Adds source file and line number
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to slog.Level, falling back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
