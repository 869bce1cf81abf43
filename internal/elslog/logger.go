// Package elslog provides the structured logger used across the engine.
package elslog

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with the contextual fields the engine attaches
// to every log line: run, token and node identity.
type Logger struct {
	*slog.Logger
}

// New builds a Logger. format "json" produces machine-readable lines;
// anything else produces tint-colored console output.
func New(level, format string) *Logger {
	var handler slog.Handler

	logLevel := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
			AddSource:  false,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithContext returns a logger carrying run_id from the context, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if runID := ctx.Value(ctxKeyRunID); runID != nil {
		return &Logger{Logger: l.With("run_id", runID)}
	}
	return l
}

// WithFields returns a logger with additional static fields attached.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
}

// WithRunID attaches run_id to every subsequent log line.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{Logger: l.With("run_id", runID)}
}

// WithTokenID attaches token_id to every subsequent log line.
func (l *Logger) WithTokenID(tokenID string) *Logger {
	return &Logger{Logger: l.With("token_id", tokenID)}
}

// WithNodeID attaches node_id to every subsequent log line.
func (l *Logger) WithNodeID(nodeID string) *Logger {
	return &Logger{Logger: l.With("node_id", nodeID)}
}

// Error logs an error with a captured stack trace, so RecorderError and
// core-bug conditions are diagnosable after the fact.
func (l *Logger) Error(msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.Error(msg, args...)
}

// ErrorContext is Error plus context propagation.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.ErrorContext(ctx, msg, args...)
}

type ctxKey string

const ctxKeyRunID ctxKey = "run_id"

// ContextWithRunID stashes a run_id so WithContext can recover it later.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

func parseLevel(level string) slog.Level {
	switch level {
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
