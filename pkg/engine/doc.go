// Package engine provides the core types of the activator: task statuses,
// resources, lifecycle contracts and the asynchronous task tracker.
//
// # Overview
//
// Every resource kind (app, route, space, organization, managed service,
// user-provided service, database, technical deployment) exposes the same
// lifecycle steps: activate, firststart, start, stop and delete. Each step
// returns a TaskStatus rather than an error:
//
//	NOT_STARTED -> STARTED -> FINISHED_OK
//	                      \-> FINISHED_FAILED
//
// Terminal statuses are immutable. Callers poll non-terminal ones until they
// finish or their SuggestedTimeoutSeconds elapses.
//
// # Contracts
//
// The package defines the interfaces implemented elsewhere:
//
//   - Repository: loads and saves resources (pkg/stores)
//   - ArtifactResolver and the per-kind activation services (pkg/activation/simulated)
//   - LifecycleHandler and StepDispatcher (pkg/plugins)
//   - TaskSink: receives tracker snapshots (pkg/stores)
//
// # Tracker
//
// The Tracker maps task ids to statuses behind a single mutex. Poll never
// blocks on provider completion and returns terminal statuses untouched.
// Submit runs work on a bounded WorkerPool; the worker receives a context
// detached from the caller's cancellation carrying the caller's logger.
//
//	tracker := engine.NewTracker(engine.DefaultTrackerConfig())
//	defer tracker.Close(ctx)
//
//	status := tracker.Submit(ctx, engine.NewTaskStatus(kind, engine.StepFirstStart, id),
//	    "Database orders has been first started.",
//	    func(ctx context.Context) error { return svc.LaunchPopulationScript(ctx, db) })
//
// # Errors
//
// EngineError classifies failures (not_found, provider_failure,
// ignorable_provider_failure, invalid_transition, configuration, internal).
// Only configuration errors escape construction; lifecycle failures are
// reported as FINISHED_FAILED statuses.
//
// # Activation order
//
// DAGBuilder orders the resources of a technical deployment so that each
// resource follows its dependencies, keeping declared order inside a level.
package engine
