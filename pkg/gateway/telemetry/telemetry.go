// Package telemetry wires OpenTelemetry tracing for the relay.
package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName is the OTel instrumentation scope name.
	InstrumentationName = "github.com/vango-go/nativeflow"

	// ServiceName is reported as service.name on exported spans.
	ServiceName = "nativeflow-relay"
)

// Tracer returns a named tracer from the given TracerProvider.
// If tp is nil the global provider is used.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// NewTracerProvider creates a TracerProvider that exports spans via OTLP/HTTP.
// The caller is responsible for calling Shutdown on the returned provider.
func NewTracerProvider(ctx context.Context, endpoint, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// Setup installs a global OTLP tracer provider when endpoint is set and
// returns its shutdown func. With no endpoint it leaves the global no-op
// provider in place and returns a no-op shutdown.
func Setup(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	SetupPropagation()
	if strings.TrimSpace(endpoint) == "" {
		return func(context.Context) error { return nil }, nil
	}
	tp, err := NewTracerProvider(ctx, endpoint, ServiceName)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// SetupPropagation configures W3C TraceContext and Baggage propagation.
func SetupPropagation() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}
