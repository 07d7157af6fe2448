package plugins

import (
	"context"

	"github.com/openfroyo/activator/pkg/engine"
)

// resourceOps adapts one activation service to ResourceHandler.
type resourceOps[T engine.Resource] struct {
	activate func(ctx context.Context, res T, actx engine.ActivationContext) error
	delete   func(ctx context.Context, res T) error

	// attr is the identifying attribute used in titles.
	attr func(res T) string

	// deleteAlways sends every delete to the provider, activated or not.
	deleteAlways bool
}

// ResourceHandler implements the lifecycle of kinds without a runtime:
// routes, spaces, organizations, managed and user-provided services.
//
// Activate and delete reach the activation service. Unless the kind deletes
// always, deleting a resource that was never activated succeeds without a
// provider call. Start, stop and firststart only check that the resource
// exists.
type ResourceHandler[T engine.Resource] struct {
	base
	ops resourceOps[T]
}

func newResourceHandler[T engine.Resource](kind engine.ResourceKind, service string, common Common, ops resourceOps[T]) (*ResourceHandler[T], error) {
	b, err := newBase(kind, service, common)
	if err != nil {
		return nil, err
	}
	return &ResourceHandler[T]{base: b, ops: ops}, nil
}

// Activate creates the resource at the provider.
func (h *ResourceHandler[T]) Activate(ctx context.Context, id string, actx engine.ActivationContext) *engine.TaskStatus {
	status := h.newStatus(engine.StepActivate, id)
	res, ok := load[T](ctx, &h.base, status, id)
	if !ok {
		return status
	}

	if err := h.call(ctx, "activate", func(ctx context.Context) error {
		return h.ops.activate(ctx, res, actx)
	}); err != nil {
		return h.failAndSave(ctx, status, res, err)
	}

	h.setState(res.Meta(), engine.ActivationActivated)
	return h.finish(ctx, status, res, h.title(h.ops.attr(res), engine.StepActivate))
}

// FirstStart has no provider side for this kind.
func (h *ResourceHandler[T]) FirstStart(ctx context.Context, id string) *engine.TaskStatus {
	return h.noop(ctx, engine.StepFirstStart, id)
}

// Start has no provider side for this kind.
func (h *ResourceHandler[T]) Start(ctx context.Context, id string) *engine.TaskStatus {
	return h.noop(ctx, engine.StepStart, id)
}

// Stop has no provider side for this kind.
func (h *ResourceHandler[T]) Stop(ctx context.Context, id string) *engine.TaskStatus {
	return h.noop(ctx, engine.StepStop, id)
}

// Delete removes the resource at the provider.
func (h *ResourceHandler[T]) Delete(ctx context.Context, id string) *engine.TaskStatus {
	status := h.newStatus(engine.StepDelete, id)
	res, ok := load[T](ctx, &h.base, status, id)
	if !ok {
		return status
	}
	meta := res.Meta()
	title := h.title(h.ops.attr(res), engine.StepDelete)

	if !meta.IsActivated() && !h.ops.deleteAlways {
		h.setState(meta, engine.ActivationRemoved)
		return h.finish(ctx, status, res, title)
	}

	if err := h.call(ctx, "delete", func(ctx context.Context) error {
		return h.ops.delete(ctx, res)
	}); err != nil {
		return h.fail(ctx, status, err)
	}

	h.setState(meta, engine.ActivationRemoved)
	return h.finish(ctx, status, res, title)
}

func (h *ResourceHandler[T]) noop(ctx context.Context, step engine.LifecycleStep, id string) *engine.TaskStatus {
	status := h.newStatus(step, id)
	res, ok := load[T](ctx, &h.base, status, id)
	if !ok {
		return status
	}
	return h.nothingToDo(ctx, status, h.ops.attr(res))
}

// nameOrID returns the resource name, or its id when unnamed.
func nameOrID(meta *engine.ResourceMeta) string {
	if meta.Name != "" {
		return meta.Name
	}
	return meta.ID
}
