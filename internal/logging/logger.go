package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format at Info, development uses human-readable
// text at Debug. Logs go to stderr so command output on stdout stays
// machine-readable.
func NewLogger(env string) *slog.Logger {
	return New(os.Stderr, env, "")
}

// New is NewLogger with an explicit destination and level override.
// An empty or unknown level keeps the environment default.
func New(w io.Writer, env, level string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		opts.Level = parseLevel(level, slog.LevelInfo)
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = parseLevel(level, slog.LevelDebug)
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
