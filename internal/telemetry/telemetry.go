// Package telemetry wires OpenTelemetry tracing around scan ticks,
// datasource fetches, and channel sends, adapted from the teacher's
// telemetry.TelemetryManager (internal/telemetry/tracing.go, otel.go).
package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the tracer provider.
type Config struct {
	ServiceName  string
	Enabled      bool
	OTLPEndpoint string
	SampleRatio  float64
}

// Manager wraps a tracer and its shutdown function; a disabled
// Manager is a safe no-op, so call sites never need to branch on
// whether tracing is turned on.
type Manager struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
	enabled  bool
}

// New builds a Manager. When cfg.Enabled is false it returns
// immediately with tracing disabled.
func New(cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{enabled: false}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			log.Printf("telemetry: failed to create otlp exporter, falling back to stdout: %v", err)
			exporter = nil
		}
	}
	if exporter == nil {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("building stdout exporter: %w", err)
		}
	}

	sampleRatio := cfg.SampleRatio
	if sampleRatio <= 0 {
		sampleRatio = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Manager{
		tracer:   tp.Tracer(cfg.ServiceName),
		shutdown: tp.Shutdown,
		enabled:  true,
	}, nil
}

// Shutdown flushes and stops the tracer provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// StartSpan starts a span named name.
func (m *Manager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !m.enabled {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := m.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// WithSpan runs fn inside a span named name, recording fn's error (if
// any) on the span before returning it unchanged.
func (m *Manager) WithSpan(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := m.StartSpan(ctx, name, attrs...)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// TraceFetch wraps a single DataSource.Fetch call in a span.
func (m *Manager) TraceFetch(ctx context.Context, datasourceName, alertName string, fn func(context.Context) error) error {
	return m.WithSpan(ctx, fmt.Sprintf("datasource.fetch.%s", datasourceName), fn,
		attribute.String("sentinel.datasource", datasourceName),
		attribute.String("sentinel.alert", alertName),
	)
}

// TraceSend wraps a single AlertChannel.Send call in a span.
func (m *Manager) TraceSend(ctx context.Context, channelName string, fn func(context.Context) error) error {
	return m.WithSpan(ctx, fmt.Sprintf("channel.send.%s", channelName), fn,
		attribute.String("sentinel.channel", channelName),
	)
}

// TraceTick wraps one full scan tick in a span.
func (m *Manager) TraceTick(ctx context.Context, fn func(context.Context) error) error {
	return m.WithSpan(ctx, "scanner.tick", fn)
}
