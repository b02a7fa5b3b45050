// Package logging wraps slog with the contextual field helpers every engine
// component needs.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger is the interface every engine package depends on. Keeping it an
// interface (rather than requiring *Logger everywhere) means tests can pass a
// no-op or recording implementation without pulling in slog.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
}

// SlogLogger adapts *slog.Logger to the Logger interface.
type SlogLogger struct {
	*slog.Logger
}

// New builds a SlogLogger. format is "json" for machine-readable output or
// anything else for tint's colored console handler.
func New(level, format string) *SlogLogger {
	logLevel := parseLevel(level)

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return &SlogLogger{Logger: slog.New(handler)}
}

func (l *SlogLogger) Info(msg string, kv ...any)  { l.Logger.Info(msg, kv...) }
func (l *SlogLogger) Warn(msg string, kv ...any)  { l.Logger.Warn(msg, kv...) }
func (l *SlogLogger) Debug(msg string, kv ...any) { l.Logger.Debug(msg, kv...) }

// Error logs at error level. Unlike Info/Warn/Debug it never receives a raw
// panic value here — panics are converted to errs.InternalError before they
// reach logging, per the Design Notes' "no exceptions for control flow" rule.
func (l *SlogLogger) Error(msg string, kv ...any) {
	l.Logger.Error(msg, kv...)
}

// WithExecutionID returns a derived logger carrying execution_id on every line.
func (l *SlogLogger) WithExecutionID(executionID string) *SlogLogger {
	return &SlogLogger{Logger: l.With("execution_id", executionID)}
}

// WithNodeID returns a derived logger carrying node_id on every line.
func (l *SlogLogger) WithNodeID(nodeID string) *SlogLogger {
	return &SlogLogger{Logger: l.With("node_id", nodeID)}
}

// WithFields returns a derived logger carrying an arbitrary set of fields.
func (l *SlogLogger) WithFields(fields map[string]any) *SlogLogger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &SlogLogger{Logger: l.With(args...)}
}

type ctxKey struct{}

// WithContext stashes a logger on ctx so deep call chains don't need to
// thread a Logger parameter through every function signature.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger stashed by WithContext, falling back to a
// quiet no-op logger so callers never need a nil check.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return noop{}
}

type noop struct{}

func (noop) Info(string, ...any)  {}
func (noop) Warn(string, ...any)  {}
func (noop) Error(string, ...any) {}
func (noop) Debug(string, ...any) {}
