// Package plugins implements the lifecycle handlers of every resource kind and
// the dispatcher that routes (kind, step) pairs to them.
//
// # Handlers
//
// Each handler loads its resource through an engine.Repository, applies the
// kind's idempotency rules, calls the kind's activation service and saves the
// resource back before returning. Handlers never return errors: a missing
// resource or a provider failure comes back as a FINISHED_FAILED
// engine.TaskStatus carrying the message.
//
//   - app: resolves the artifact once, stores the URL, then activates
//   - route, space, organization, managed and user-provided services:
//     activate and delete only; deleting a never-activated resource skips the provider
//   - database: asynchronous activation tracked by correlation, population
//     script on the tracker's worker pool, benign delete errors ignored
//   - technical deployment: drives every contained resource and aggregates
//
// # Dispatcher
//
// The registration table is built once and never changes:
//
//	d, err := plugins.NewStandardDispatcher(common, services)
//	status := d.Dispatch(ctx, engine.KindApp, engine.StepActivate, id, actx)
//	for !status.IsTerminal() {
//		status = d.Poll(ctx, status)
//	}
//
// Registration mistakes are engine configuration errors returned by
// NewDispatcher. Dispatch recovers handler panics into failed statuses.
package plugins
