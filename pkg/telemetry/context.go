package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of one
// activator process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel := &Telemetry{Config: cfg}
	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if tel.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, err
	}
	return tel, nil
}

// NewNopTelemetry returns telemetry that logs nothing and records nothing.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false

	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{Logger: NewNopLogger(), Tracer: tracer, Metrics: metrics, Events: events, Config: cfg}
}

// WithContext stores the telemetry and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))
}

// FromTelemetryContext returns the telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown drains the event queue and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// StartMetricsServer serves the Prometheus endpoint when metrics are enabled.
func (t *Telemetry) StartMetricsServer(ctx context.Context) error {
	return t.Metrics.StartMetricsServer(ctx)
}

// finish closes span with the outcome of err. A nil span is ignored.
func finish(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// OperationScope is one traced environment operation. Ctx carries the span
// and Logger, which is tagged with the operation and trace identifiers.
type OperationScope struct {
	Ctx    context.Context
	Logger *Logger
	span   trace.Span
}

// StartOperation opens a span for operation when ctx carries telemetry.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *OperationScope {
	logger := FromContext(ctx)
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &OperationScope{Ctx: ctx, Logger: logger}
	}

	ctx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger = logger.WithField("operation", operation)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	return &OperationScope{Ctx: logger.WithContext(ctx), Logger: logger, span: span}
}

// End closes the span, marking it failed when err is set.
func (s *OperationScope) End(err error) {
	finish(s.span, err)
}

// LifecycleContext is the telemetry scope of one lifecycle handler call.
type LifecycleContext struct {
	Ctx    context.Context
	Logger *Logger

	kind, step string
	span       trace.Span
	timer      *Timer
	tel        *Telemetry
}

// StartLifecycle opens the scope of a handler call. Ctx carries a logger
// tagged with kind, step and resourceID.
func StartLifecycle(ctx context.Context, kind, step, resourceID string) *LifecycleContext {
	lc := &LifecycleContext{
		Logger: FromContext(ctx).WithKind(kind, step).WithResourceID(resourceID),
		kind:   kind,
		step:   step,
		timer:  NewTimer(),
		tel:    FromTelemetryContext(ctx),
	}
	if lc.tel != nil {
		ctx, lc.span = lc.tel.Tracer.StartLifecycleSpan(ctx, kind, step, resourceID)
	}
	lc.Ctx = lc.Logger.WithContext(ctx)
	return lc
}

// End records the state the handler returned on the span and in metrics.
func (lc *LifecycleContext) End(taskID, state, errMsg string) {
	if lc.span != nil {
		AddTaskEvent(lc.span, taskID, state)
		if errMsg != "" {
			lc.span.SetAttributes(AttrErrorMessage.String(errMsg))
		}
		lc.span.End()
	}
	if lc.tel != nil {
		lc.tel.Metrics.RecordLifecycle(lc.kind, lc.step, state, lc.timer.Duration())
	}
}

// RecordProviderOperation runs one activation service call under a span and
// records its latency. Errors for which ignorable reports true are counted
// as ignored and leave the span successful.
func RecordProviderOperation(ctx context.Context, service, operation string, ignorable func(error) bool, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartProviderSpan(ctx, service, operation)
	timer := NewTimer()
	err := fn(ctx)
	tel.Metrics.RecordProviderCall(service, operation, timer.Duration())

	if err == nil {
		finish(span, nil)
		return nil
	}
	ignored := ignorable != nil && ignorable(err)
	tel.Metrics.RecordProviderError(service, operation, ignored)
	if ignored {
		AddEvent(span, "provider.error_ignored", AttrErrorMessage.String(err.Error()))
		finish(span, nil)
	} else {
		finish(span, err)
	}
	return err
}
