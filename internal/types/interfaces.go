package types

import (
	"context"
	"log/slog"
)

// Logger defines the structured logging interface used throughout the engine.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// slogLogger adapts *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps a *slog.Logger in the platform Logger interface.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) With(args ...any) Logger       { return &slogLogger{l: s.l.With(args...)} }

// EventBus fans lifecycle events out to side-effect subscribers. Dispatch is
// fire-and-forget: a subscriber failure must never affect the state
// transition that triggered the event.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(t EventType, fn func(ctx context.Context, event Event))
	SubscribeAll(fn func(ctx context.Context, event Event))
}

// FaultReporter is the write surface of the central error handler. Services
// report wrapped store failures here before returning them to callers.
type FaultReporter interface {
	Report(ctx context.Context, err error, severity ErrorSeverity, category ErrorCategory, context map[string]any)
}

// EmailTransport sends a rendered email. Implementations must be safe for
// concurrent use.
type EmailTransport interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
