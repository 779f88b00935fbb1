// Package logging wraps log/slog with the console/JSON handler split and
// contextual helpers used across the execution core.
package logging

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger embeds *slog.Logger so callers can use it as a drop-in slog
// logger while also getting the execution/node-scoped helpers below.
type Logger struct {
	*slog.Logger
}

// New builds a Logger. format "json" selects slog's JSON handler
// (production); anything else selects a tint console handler (local
// development), colorized with HH:MM:SS timestamps.
func New(level, format string) *Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithFields returns a child logger with the given attributes attached.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithExecutionID scopes a logger to one execution.
func (l *Logger) WithExecutionID(executionID string) *Logger {
	return &Logger{Logger: l.Logger.With("execution_id", executionID)}
}

// WithNodeID scopes a logger to one node within an execution.
func (l *Logger) WithNodeID(nodeID string) *Logger {
	return &Logger{Logger: l.Logger.With("node_id", nodeID)}
}

// WithContext extracts a trace id placed on ctx by upstream middleware,
// if any, and attaches it.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		return &Logger{Logger: l.Logger.With("trace_id", traceID)}
	}
	return l
}

type traceIDKey struct{}

// WithTraceID stores a trace id on ctx for later retrieval by WithContext.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// Error logs at error level and attaches a stack trace, matching the
// teacher's convention of never losing the call site on a logged error.
func (l *Logger) Error(msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.Error(msg, args...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
