// Package telemetry provides observability instrumentation for the activator.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing behind one Telemetry
// value that travels in the context.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// Loggers are derived per component and enriched with lifecycle fields:
//
//	logger := tel.Logger.NewComponentLogger("tracker")
//	logger = logger.WithTaskID(status.TaskID).WithResourceID(status.ResourceID)
//	logger.Info("task registered")
//
// FromContext falls back to the process-wide zerolog logger, so code that runs
// without telemetry still logs.
//
// # Lifecycle Instrumentation
//
// Every handler call dispatched by the plugins package runs inside a
// LifecycleContext, which opens a span, tags the logger with kind, step and
// resource, and records the resulting task state:
//
//	lc := telemetry.StartLifecycle(ctx, "app", "activate", id)
//	status := handler.Activate(lc.Ctx, id, actx)
//	lc.End(status.TaskID, string(status.State), status.ErrorMessage)
//
// Activation service calls are wrapped with RecordProviderOperation, which
// counts calls, errors and ignored errors per service and operation.
//
// # Metrics
//
// Exposed metrics, all under the configured namespace:
//
//   - lifecycle_operations_total{kind,step,state}
//   - lifecycle_operation_duration_seconds{kind,step}
//   - provider_calls_total{service,operation}
//   - provider_call_duration_seconds{service,operation}
//   - provider_errors_total{service,operation,ignored}
//   - tasks_tracked
//   - tasks_completed_total{state}
//   - tasks_rejected_total
//   - environment_transitions_total{from,to}
//   - environments{state}
//   - errors_by_class_total{class}
//   - errors_by_code_total{code}
//
// A nil *Metrics is valid and records nothing.
//
// # Events
//
// The EventPublisher delivers task, environment, resource and policy events to
// subscribers in publication order. The stores package subscribes to persist
// them.
package telemetry
