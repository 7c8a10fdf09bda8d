package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

const instrumentationName = "github.com/adverant/nexus/ocr-worker"

// Tracer wraps the OpenTelemetry provider. When disabled it hands out the
// global no-op tracer.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewTracer creates a tracer exporting over OTLP/gRPC
func NewTracer(ctx context.Context, cfg config.TracingConfig, logger *logging.Logger) (*Tracer, error) {
	if logger == nil {
		logger = logging.NewLogger("tracing")
	}
	if !cfg.Enabled {
		logger.Info("OpenTelemetry tracing is disabled")
		return &Tracer{tracer: otel.Tracer(instrumentationName)}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "ocr-worker"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("service.namespace", "nexus"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetry tracing initialized",
		"endpoint", cfg.Endpoint,
		"serviceName", cfg.ServiceName,
		"sampleRate", cfg.SampleRate)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
		enabled:  true,
	}, nil
}

// Shutdown flushes pending spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// IsEnabled returns whether spans are exported
func (t *Tracer) IsEnabled() bool {
	return t != nil && t.enabled
}

// StartEngineSpan starts a span around one engine invocation. It uses the
// global provider so packages need no tracer handle.
func StartEngineSpan(ctx context.Context, jobID, engine string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "ocr.engine."+engine,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("ocr.job_id", jobID),
			attribute.String("ocr.engine", engine),
		),
	)
}

// StartRequestSpan starts a span around one orchestrated request
func StartRequestSpan(ctx context.Context, operation, jobID string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "ocr."+operation,
		trace.WithAttributes(attribute.String("ocr.job_id", jobID)),
	)
}

// EndSpan ends span and records err when set
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SetSpanAttributes sets attributes on the current span
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}
