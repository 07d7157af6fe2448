package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrTaskID    = attribute.Key("task.id")
	AttrTaskState = attribute.Key("task.state")

	AttrResourceID    = attribute.Key("resource.id")
	AttrResourceKind  = attribute.Key("resource.kind")
	AttrLifecycleStep = attribute.Key("lifecycle.step")
	AttrOperation     = attribute.Key("operation")

	AttrEnvironmentID    = attribute.Key("environment.id")
	AttrEnvironmentType  = attribute.Key("environment.type")
	AttrEnvironmentState = attribute.Key("environment.state")
	AttrReleaseID        = attribute.Key("release.id")

	AttrProviderName = attribute.Key("provider.name")
	AttrProviderOp   = attribute.Key("provider.operation")

	AttrErrorMessage = attribute.Key("error.message")
)

// Tracer starts the spans of lifecycle calls, activation service calls and
// environment operations.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// exporters builds span exporters by configured name. "none" keeps spans
// in process.
var exporters = map[string]func(TracingConfig) (sdktrace.SpanExporter, error){
	"otlp":   otlpExporter,
	"stdout": func(TracingConfig) (sdktrace.SpanExporter, error) { return stdouttrace.New(stdouttrace.WithPrettyPrint()) },
	"none":   func(TracingConfig) (sdktrace.SpanExporter, error) { return nil, nil },
}

// NewTracer creates a tracer. A disabled configuration yields a tracer whose
// spans are never exported.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{provider: sdktrace.NewTracerProvider(), tracer: otel.Tracer(serviceName)}, nil
	}

	build, ok := exporters[cfg.Exporter]
	if !ok {
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	exporter, err := build(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
		attribute.String("environment", environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}
	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

func otlpExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithBlock()),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

// StartSpan starts a span named operation carrying attrs.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartLifecycleSpan starts the span of one lifecycle handler call.
func (t *Tracer) StartLifecycleSpan(ctx context.Context, kind, step, resourceID string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "lifecycle."+step,
		AttrResourceKind.String(kind),
		AttrLifecycleStep.String(step),
		AttrResourceID.String(resourceID),
	)
}

// StartProviderSpan starts the span of one activation service call.
func (t *Tracer) StartProviderSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "provider."+operation,
		AttrProviderName.String(service),
		AttrProviderOp.String(operation),
	)
}

// StartEnvironmentSpan starts the span of an environment operation.
func (t *Tracer) StartEnvironmentSpan(ctx context.Context, environmentID, operation string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "environment."+operation,
		AttrEnvironmentID.String(environmentID),
		AttrOperation.String(operation),
	)
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// RecordError marks span failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks span successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds a named event to span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// AddTaskEvent records a task transition on span.
func AddTaskEvent(span trace.Span, taskID, state string) {
	AddEvent(span, "task."+state, AttrTaskID.String(taskID), AttrTaskState.String(state))
}

// AddResourceEvent records a resource outcome on span.
func AddResourceEvent(span trace.Span, resourceID, eventType, message string) {
	AddEvent(span, eventType, AttrResourceID.String(resourceID), attribute.String("event.message", message))
}
