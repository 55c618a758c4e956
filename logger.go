package raggo

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with raggo-specific context.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogIngest logs an ingest operation.
func (l *Logger) LogIngest(ctx context.Context, filename string, chunks int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"filename", filename,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "ingest completed",
			"filename", filename,
			"chunks", chunks,
		)
	}
}

// LogRetrieve logs a retrieval operation.
func (l *Logger) LogRetrieve(ctx context.Context, topK, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "retrieve failed",
			"top_k", topK,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "retrieve completed",
			"top_k", topK,
			"results", resultsFound,
		)
	}
}

// LogSnapshot logs a snapshot save of the paired stores.
func (l *Logger) LogSnapshot(ctx context.Context, dir string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"dir", dir,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"dir", dir,
		)
	}
}

// LogRecovery logs a WAL recovery operation.
func (l *Logger) LogRecovery(ctx context.Context, entriesReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "WAL recovery failed",
			"entries_replayed", entriesReplayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "WAL recovery completed",
			"entries_replayed", entriesReplayed,
		)
	}
}
