package middleware

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chillspot/chillspot-api/internal/config"
	"github.com/chillspot/chillspot-api/internal/logging"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// InitTracing installs the global tracer provider. The returned function
// flushes and stops it.
func InitTracing(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (func(context.Context) error, error) {
	obs := cfg.Observability
	if !obs.TracingEnabled {
		logger.Info("Tracing is disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newSpanExporter(ctx, &obs)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(logging.ServiceName),
			semconv.ServiceVersionKey.String(logging.Version()),
			attribute.String("environment", cfg.Server.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(obs.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tp.Tracer(logging.ServiceName)

	logger.WithFields(logrus.Fields{
		"exporter":    obs.TraceExporter,
		"endpoint":    obs.OTLPEndpoint,
		"sample_rate": obs.SampleRate,
	}).Info("OpenTelemetry tracing initialized")

	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, obs *config.ObservabilityConfig) (sdktrace.SpanExporter, error) {
	switch obs.TraceExporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	case "otlp", "":
		endpoint := strings.TrimPrefix(obs.OTLPEndpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unknown trace exporter: %s", obs.TraceExporter)
	}
}

// GetTracer returns the global tracer
func GetTracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(logging.ServiceName)
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, name, opts...)
}

// AddSpanAttributes adds attributes to the span
func AddSpanAttributes(span trace.Span, attrs map[string]interface{}) {
	if span == nil {
		return
	}

	attributes := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			attributes = append(attributes, attribute.String(k, val))
		case int:
			attributes = append(attributes, attribute.Int(k, val))
		case int64:
			attributes = append(attributes, attribute.Int64(k, val))
		case float64:
			attributes = append(attributes, attribute.Float64(k, val))
		case bool:
			attributes = append(attributes, attribute.Bool(k, val))
		}
	}
	span.SetAttributes(attributes...)
}

// RecordError records an error in the span
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
	}
}
