package plugins

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// Common handler dependencies.
type Common struct {
	Repository engine.Repository
	Tracker    *engine.Tracker
	Events     *telemetry.EventPublisher
}

func (c Common) validate(kind engine.ResourceKind) error {
	if c.Repository == nil {
		return engine.NewConfigurationError(fmt.Sprintf("%s handler requires a repository", kind), nil)
	}
	if c.Tracker == nil {
		return engine.NewConfigurationError(fmt.Sprintf("%s handler requires a tracker", kind), nil)
	}
	return nil
}

// base holds what every handler shares: loading, saving, provider call
// wrapping and title formatting.
type base struct {
	kind    engine.ResourceKind
	service string
	Common
}

func newBase(kind engine.ResourceKind, service string, common Common) (base, error) {
	if err := common.validate(kind); err != nil {
		return base{}, err
	}
	return base{kind: kind, service: service, Common: common}, nil
}

// Kind implements engine.LifecycleHandler.
func (b *base) Kind() engine.ResourceKind { return b.kind }

// Poll returns terminal statuses unchanged and refreshes the rest from the tracker.
func (b *base) Poll(ctx context.Context, status *engine.TaskStatus) *engine.TaskStatus {
	return b.Tracker.Poll(ctx, status, nil)
}

func (b *base) newStatus(step engine.LifecycleStep, id string) *engine.TaskStatus {
	status := engine.NewTaskStatus(b.kind, step, id)
	status.Title = fmt.Sprintf("%s %s", b.kind.DisplayName(), id)
	status.Start()
	return status
}

// title renders "<Kind> <attr> has been <verb>.".
func (b *base) title(attr string, step engine.LifecycleStep) string {
	return fmt.Sprintf("%s %s has been %s.", b.kind.DisplayName(), attr, step.PastTense())
}

// fail finishes status with err and logs it with the lifecycle context.
func (b *base) fail(ctx context.Context, status *engine.TaskStatus, err error) *engine.TaskStatus {
	telemetry.FromContext(ctx).WithTaskID(status.TaskID).WithError(err).Zerolog().Error().
		Msg(fmt.Sprintf("%s %s failed", b.kind.DisplayName(), status.Step))
	telemetry.AddResourceEvent(trace.SpanFromContext(ctx), status.ResourceID, "lifecycle.failed", err.Error())
	status.Fail(err.Error())
	return status
}

func (b *base) succeed(ctx context.Context, status *engine.TaskStatus, title string) *engine.TaskStatus {
	status.Succeed(title)
	telemetry.FromContext(ctx).Info(title)
	telemetry.AddResourceEvent(trace.SpanFromContext(ctx), status.ResourceID, "lifecycle.succeeded", title)
	return status
}

// nothingToDo finishes a step that has no provider side for this kind.
func (b *base) nothingToDo(ctx context.Context, status *engine.TaskStatus, attr string) *engine.TaskStatus {
	return b.succeed(ctx, status, fmt.Sprintf("%s %s: nothing to do.", b.kind.DisplayName(), attr))
}

// call wraps one activation service call with metrics and tracing.
func (b *base) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return telemetry.RecordProviderOperation(ctx, b.service, operation, nil, fn)
}

// setState moves the activation state and publishes the change.
func (b *base) setState(meta *engine.ResourceMeta, state engine.ActivationState) {
	if meta.ActivationState == state {
		return
	}
	old := meta.ActivationState
	meta.ActivationState = state
	_ = b.Events.PublishResourceStateChanged(meta.ID, string(old), string(state))
}

// save writes the resource back through the repository.
func (b *base) save(ctx context.Context, res engine.Resource) error {
	if err := b.Repository.Save(ctx, res); err != nil {
		return engine.NewInternalError("failed to save resource", err).WithResource(res.Meta().ID)
	}
	return nil
}

// failAndSave records the failed activation state, then fails status with err.
func (b *base) failAndSave(ctx context.Context, status *engine.TaskStatus, res engine.Resource, err error) *engine.TaskStatus {
	b.setState(res.Meta(), engine.ActivationFailed)
	if saveErr := b.save(ctx, res); saveErr != nil {
		telemetry.FromContext(ctx).WithError(saveErr).Error("failed to save resource")
	}
	return b.fail(ctx, status, err)
}

// finish saves the resource and succeeds status with title.
func (b *base) finish(ctx context.Context, status *engine.TaskStatus, res engine.Resource, title string) *engine.TaskStatus {
	if err := b.save(ctx, res); err != nil {
		return b.fail(ctx, status, err)
	}
	return b.succeed(ctx, status, title)
}

// load fetches the resource as T. An absent resource, a store error or a
// resource of another kind fails status and returns false.
func load[T engine.Resource](ctx context.Context, b *base, status *engine.TaskStatus, id string) (T, bool) {
	var zero T
	res, found, err := b.Repository.Lookup(ctx, id)
	if err != nil {
		b.fail(ctx, status, engine.NewInternalError("failed to load resource", err).WithResource(id))
		return zero, false
	}
	if !found || res == nil {
		b.fail(ctx, status, engine.NewNotFoundError(b.kind, id))
		return zero, false
	}
	typed, ok := res.(T)
	if !ok {
		b.fail(ctx, status, engine.NewNotFoundError(b.kind, id).
			WithDetail("actual_kind", string(res.Meta().Kind)))
		return zero, false
	}
	return typed, true
}
