//go:build linux

package npheap

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with npheap-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// LogMap logs a mapping request.
func (l *Logger) LogMap(ctx context.Context, id uint64, length int, installed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "map failed",
			"id", id,
			"length", length,
			"pages_installed", installed,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "map completed",
			"id", id,
			"length", length,
			"pages_installed", installed,
		)
	}
}

// LogDelete logs a delete command.
func (l *Logger) LogDelete(ctx context.Context, id uint64, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"id", id,
			"found", found,
		)
	}
}

// LogLock logs the outcome of a lock command.
func (l *Logger) LogLock(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.WarnContext(ctx, "lock not acquired",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "lock acquired",
			"id", id,
		)
	}
}

// LogUnlock logs an unlock command. held reports whether the lock was held.
func (l *Logger) LogUnlock(ctx context.Context, id uint64, held bool) {
	if !held {
		l.WarnContext(ctx, "unlock without matching lock",
			"id", id,
		)
	} else {
		l.DebugContext(ctx, "lock released",
			"id", id,
		)
	}
}
