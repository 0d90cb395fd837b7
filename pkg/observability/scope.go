package observability

import (
	"go.opentelemetry.io/otel/trace"
)

// Scope is the explicit context object threaded through the locator, the
// bridge and the log multiplexer. One Scope lives exactly as long as the
// controller that created it.
type Scope struct {
	Logger  *Logger
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewScope fills missing members with defaults: a discarding logger, the
// global (normally no-op) tracer and a private metrics registry.
func NewScope(logger *Logger, tracer trace.Tracer, metrics *Metrics) *Scope {
	if logger == nil {
		logger = NopLogger()
	}
	if tracer == nil {
		tracer = DefaultTracer()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Scope{Logger: logger, Tracer: tracer, Metrics: metrics}
}

// OrDefault returns s, or a default scope when s is nil.
func (s *Scope) OrDefault() *Scope {
	if s == nil {
		return NewScope(nil, nil, nil)
	}
	return s
}
