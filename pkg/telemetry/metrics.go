package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the activator.
// All recording methods are safe on a nil receiver and on a disabled instance.
type Metrics struct {
	config MetricsConfig

	lifecycleOps      *prometheus.CounterVec
	lifecycleDuration *prometheus.HistogramVec

	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	tasksTracked   prometheus.Gauge
	tasksCompleted *prometheus.CounterVec
	tasksRejected  prometheus.Counter

	environmentTransitions *prometheus.CounterVec
	environmentsByState    *prometheus.GaugeVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers the activator collectors on a private registry. A
// disabled configuration yields metrics that record nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace
	registry := prometheus.NewRegistry()
	f := promauto.With(registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Metrics{
		config:   cfg,
		registry: registry,

		lifecycleOps: counter("lifecycle_operations_total",
			"Lifecycle handler calls by kind, step and returned state", "kind", "step", "state"),
		lifecycleDuration: histogram("lifecycle_operation_duration_seconds",
			"Duration of synchronous lifecycle handler calls", "kind", "step"),

		providerCalls: counter("provider_calls_total",
			"Activation service calls", "service", "operation"),
		providerDuration: histogram("provider_call_duration_seconds",
			"Duration of activation service calls", "service", "operation"),
		providerErrors: counter("provider_errors_total",
			"Activation service errors, split by whether they were ignored", "service", "operation", "ignored"),

		tasksTracked: f.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "tasks_tracked",
			Help: "Statuses currently held by the task tracker"}),
		tasksCompleted: counter("tasks_completed_total",
			"Tracked tasks reaching a terminal state", "state"),
		tasksRejected: f.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "tasks_rejected_total",
			Help: "Background tasks refused by a full worker queue"}),

		environmentTransitions: counter("environment_transitions_total",
			"Environment state transitions", "from", "to"),
		environmentsByState: f.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "environments",
			Help: "Environments by state"}, []string{"state"}),

		errorsByClass: counter("errors_by_class_total", "Errors by class", "class"),
		errorsByCode:  counter("errors_by_code_total", "Errors by code", "code"),
	}, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordLifecycle records a lifecycle handler call and the state it returned.
func (m *Metrics) RecordLifecycle(kind, step, state string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.lifecycleOps.WithLabelValues(kind, step, state).Inc()
	m.lifecycleDuration.WithLabelValues(kind, step).Observe(duration.Seconds())
}

// RecordProviderCall records an activation service call with its duration.
func (m *Metrics) RecordProviderCall(service, operation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.providerCalls.WithLabelValues(service, operation).Inc()
	m.providerDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordProviderError records an activation service error.
func (m *Metrics) RecordProviderError(service, operation string, ignored bool) {
	if !m.enabled() {
		return
	}
	flag := "false"
	if ignored {
		flag = "true"
	}
	m.providerErrors.WithLabelValues(service, operation, flag).Inc()
}

// SetTasksTracked sets the number of statuses held by the tracker.
func (m *Metrics) SetTasksTracked(count int) {
	if !m.enabled() {
		return
	}
	m.tasksTracked.Set(float64(count))
}

// RecordTaskCompleted counts a tracked task reaching a terminal state.
func (m *Metrics) RecordTaskCompleted(state string) {
	if !m.enabled() {
		return
	}
	m.tasksCompleted.WithLabelValues(state).Inc()
}

// RecordTaskRejected counts a background task refused by the worker pool.
func (m *Metrics) RecordTaskRejected() {
	if !m.enabled() {
		return
	}
	m.tasksRejected.Inc()
}

// RecordEnvironmentTransition counts an environment moving between states.
func (m *Metrics) RecordEnvironmentTransition(from, to string) {
	if !m.enabled() {
		return
	}
	m.environmentTransitions.WithLabelValues(from, to).Inc()
}

// SetEnvironmentCount sets the number of environments in a state.
func (m *Metrics) SetEnvironmentCount(state string, count int) {
	if !m.enabled() {
		return
	}
	m.environmentsByState.WithLabelValues(state).Set(float64(count))
}

// RecordError counts an error by class, and by code when one is given.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the registry metrics are registered on, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer measures one operation.
type Timer struct{ start time.Time }

// NewTimer starts a timer.
func NewTimer() *Timer { return &Timer{start: time.Now()} }

// Duration is the time elapsed since NewTimer.
func (t *Timer) Duration() time.Duration { return time.Since(t.start) }

// Handler serves the registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}
