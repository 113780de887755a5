// Package telemetry wires OpenTelemetry tracing for pipeline runs.
// Export is off unless an OTLP endpoint is configured; all span
// helpers degrade to no-ops against the default global provider.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// tracerName scopes every span this module emits.
const tracerName = "mastflow"

// Config configures the OTLP gRPC trace exporter.
type Config struct {
	// Endpoint is the OTLP gRPC endpoint (e.g. "localhost:4317").
	// Empty disables export entirely.
	Endpoint string

	// ServiceName identifies this process in traces.
	ServiceName string

	// ServiceVersion is stamped on the trace resource.
	ServiceVersion string

	// Environment is the deployment environment attribute.
	Environment string

	// Insecure disables TLS on the gRPC connection.
	Insecure bool

	// Headers are sent with each export request (auth tokens etc).
	Headers map[string]string

	// BatchTimeout is how long to wait before sending a partial batch.
	BatchTimeout time.Duration

	// MaxBatchSize is the maximum number of spans per batch.
	MaxBatchSize int

	// MaxQueueSize is the span queue bound; beyond it spans drop.
	MaxQueueSize int

	// ExportTimeout bounds one export call.
	ExportTimeout time.Duration

	// SamplingRatio is the fraction of traces kept, 0.0 to 1.0.
	SamplingRatio float64
}

// DefaultConfig returns defaults with export disabled.
func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Environment:    "development",
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
		MaxQueueSize:   2048,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

var (
	initMu   sync.Mutex
	provider *sdktrace.TracerProvider
)

// Init sets up the global tracer provider with an OTLP gRPC exporter
// and returns a shutdown function that flushes pending spans. With an
// empty endpoint it leaves the no-op global provider in place.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if provider != nil {
		return shutdownFn, nil
	}

	dialOpts := []grpc.DialOption{}
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOpts...),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRatio >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRatio <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRatio)
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxBatchSize),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return shutdownFn, nil
}

// shutdownFn flushes and stops the provider installed by Init.
func shutdownFn(ctx context.Context) error {
	initMu.Lock()
	defer initMu.Unlock()

	if provider == nil {
		return nil
	}
	p := provider
	provider = nil
	otel.SetTracerProvider(noop.NewTracerProvider())
	return p.Shutdown(ctx)
}

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the module tracer. Safe to call whether
// or not Init ran; without a provider the span is a no-op.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
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

// AddEvent adds a timestamped event to the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the span in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
