// Package zrlog configures the slog.Logger every component in this module
// accepts instead of writing directly to stdout/stderr, continuing the
// dag.Executor.Observer-style dependency injection the rest of the repo
// already uses.
package zrlog

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures a logger for component, honoring ZR_LOG_FORMAT
// (json|text, default text) and ZR_LOG_LEVEL (debug|info|warn|error,
// default info). It does not call slog.SetDefault: callers that want a
// process-wide default do that themselves, since some components (e.g. the
// CLI's own --quiet/--verbose flags) need to override the env-derived level
// after Init has already run.
func Init(component string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if strings.EqualFold(os.Getenv("ZR_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("component", component)
}

// InitLevel is like Init but with an explicit level, overriding
// ZR_LOG_LEVEL. Used by the CLI to apply --verbose/--quiet.
func InitLevel(component string, level slog.Level) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: level}
	if strings.EqualFold(os.Getenv("ZR_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("component", component)
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("ZR_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
