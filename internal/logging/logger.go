package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// Output always goes to stderr so the stdio transport keeps stdout.
func NewLogger(env, level string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	if env == "production" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		if level == "" {
			opts.Level = slog.LevelDebug
		}

		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Mask shortens a secret for log output, keeping show characters at each
// end. Short values are fully replaced.
func Mask(val string, show int) string {
	if val == "" {
		return ""
	}

	r := []rune(val)
	if len(r) <= show*2 {
		return strings.Repeat("•", len(r))
	}

	return string(r[:show]) + "…" + string(r[len(r)-show:])
}
