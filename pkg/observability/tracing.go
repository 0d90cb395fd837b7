package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/odvcencio/appbridge"

// TracerProvider holds an OpenTelemetry SDK tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// NewStdoutTracerProvider exports spans as pretty JSON to w. It does not
// install itself globally; pass Tracer() into a Scope instead.
func NewStdoutTracerProvider(serviceName string, w io.Writer) (*TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return &TracerProvider{provider: provider}, nil
}

// Tracer returns the appbridge tracer from this provider.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.provider.Tracer(tracerName)
}

// Shutdown flushes and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}

// DefaultTracer returns the tracer from the globally configured provider,
// which is a no-op unless the embedding program installs one.
func DefaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// RecordError records err on the span in ctx and marks it failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Common attribute keys
var (
	AttrSessionID = attribute.Key("appbridge.session.id")
	AttrInstance  = attribute.Key("appbridge.instance")
	AttrOperation = attribute.Key("appbridge.operation")
	AttrRequestID = attribute.Key("appbridge.request.id")
	AttrPlatform  = attribute.Key("appbridge.target.platform")
	AttrFramework = attribute.Key("appbridge.target.framework")
	AttrVerified  = attribute.Key("appbridge.binary.verified")
	AttrAttempts  = attribute.Key("appbridge.binary.attempts")
)
