package observability

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures the OTLP trace exporter.
type TraceConfig struct {
	// ServiceName names the service in exported spans. Defaults to "tenex".
	ServiceName string

	// ServiceVersion is stamped on the trace resource when set.
	ServiceVersion string

	// Environment tags spans with a deployment environment when set.
	Environment string

	// Endpoint is the OTLP gRPC collector address. Empty disables export
	// entirely; spans become no-ops.
	Endpoint string

	// SamplingRate is the fraction of traces recorded, 0.0 to 1.0. Zero
	// means record everything.
	SamplingRate float64

	// Insecure turns off TLS towards the collector.
	Insecure bool
}

// Tracer wraps an OpenTelemetry tracer with the span shapes this runtime
// emits: event handling, strategy runs, LLM calls and tool executions. A nil
// Tracer is valid and records nothing.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// NewTracer builds a tracer and its shutdown function. Without an endpoint,
// or when the exporter cannot be built, the returned tracer records nothing
// and the shutdown function does nothing.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "tenex"
	}
	if config.Endpoint == "" {
		return noopTracer(config)
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return noopTracer(config)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(traceResource(config)),
		sdktrace.WithSampler(newSampler(config.SamplingRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}, provider.Shutdown
}

func noopTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	return &Tracer{
			tracer: otel.Tracer(config.ServiceName),
			config: config,
		}, func(context.Context) error {
			return nil
		}
}

// traceResource describes the service on every exported span.
func traceResource(config TraceConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return resource.Default()
	}
	return res
}

func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Start opens a span. The caller must end it. On a nil tracer the returned
// span is a no-op that never touches any span already in the context.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	var opts []trace.SpanStartOption
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError marks the span failed. A nil error does nothing.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceEventHandling opens the span covering one inbound relay event.
func (t *Tracer) TraceEventHandling(ctx context.Context, kind int, eventID string) (context.Context, trace.Span) {
	return t.Start(ctx, "event.handle",
		attribute.String("event.kind", strconv.Itoa(kind)),
		attribute.String("event.id", eventID),
	)
}

// TraceLLMRequest opens the span covering one provider API call.
func (t *Tracer) TraceLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", provider),
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
}

// TraceToolExecution opens the span covering one tool invocation.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", toolName),
		attribute.String("tool.name", toolName),
	)
}

// TraceStrategyRun opens the span covering a full strategy execution.
func (t *Tracer) TraceStrategyRun(ctx context.Context, strategy, conversationID string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("strategy.%s", strategy),
		attribute.String("strategy.name", strategy),
		attribute.String("conversation.id", conversationID),
	)
}

// GetTraceID returns the active trace id, or "" when nothing is recording.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
