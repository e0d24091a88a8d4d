package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the logging surface every package takes. Methods are ctx-first
// so records pick up the active trace and span.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

// Options configures New. App, Component, Version and Commit become
// attributes on every record; empty values are left out.
type Options struct {
	App       string
	Component string
	Version   string
	Commit    string

	// Level is the minimum level written; nil means info. A *slog.LevelVar
	// allows changing it at runtime.
	Level slog.Leveler
	// StacktraceLevel is the level from which records carry a stack; nil
	// means error.
	StacktraceLevel slog.Leveler

	JsonFormat        bool
	MaxErrorLinks     int
	IncludeErrorLinks bool
	Writer            io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel maps a config string to a level. "warning" is accepted for warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
	}
}
