package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured logger for appbridge components
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger for a component. A nil writer logs to stderr
// so stdout stays free for command output.
func NewLogger(component string, level slog.Level, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "appbridge"),
	)
	return &Logger{Logger: logger}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a config string to a slog level. Unknown values map to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger carrying the trace/span ids of ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{Logger: l.Logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)}
}

// WithComponent returns a logger for a sub-component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", component))}
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID, instance string) *Logger {
	attrs := []any{slog.String("session_id", sessionID)}
	if instance != "" {
		attrs = append(attrs, slog.String("instance", instance))
	}
	return &Logger{Logger: l.Logger.With(attrs...)}
}

// WithOperation returns a logger tagged with a remote operation name.
func (l *Logger) WithOperation(op string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("operation", op))}
}

// WithInstance returns a logger tagged with a multi-instance name.
func (l *Logger) WithInstance(instance string) *Logger {
	if instance == "" {
		return l
	}
	return &Logger{Logger: l.Logger.With(slog.String("instance", instance))}
}
