package plugins

import (
	"context"
	"fmt"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// Registration binds one (kind, step) pair to a handler.
type Registration struct {
	Kind    engine.ResourceKind
	Step    engine.LifecycleStep
	Handler engine.LifecycleHandler
}

// AllSteps registers handler for every lifecycle step of its kind.
func AllSteps(handler engine.LifecycleHandler) []Registration {
	if handler == nil {
		return []Registration{{}}
	}
	regs := make([]Registration, 0, len(engine.AllSteps))
	for _, step := range engine.AllSteps {
		regs = append(regs, Registration{Kind: handler.Kind(), Step: step, Handler: handler})
	}
	return regs
}

type tableKey struct {
	kind engine.ResourceKind
	step engine.LifecycleStep
}

// Dispatcher routes lifecycle calls to the handler registered for a (kind, step) pair.
// It is immutable once built.
type Dispatcher struct {
	table map[tableKey]engine.LifecycleHandler

	// pollers maps each kind to the handler that refreshes its statuses.
	pollers map[engine.ResourceKind]engine.LifecycleHandler
}

var _ engine.StepDispatcher = (*Dispatcher)(nil)

// NewDispatcher builds a dispatcher from registrations.
// Unknown kinds or steps, nil handlers, handlers registered under a kind they
// do not handle, and duplicate pairs are configuration errors.
func NewDispatcher(regs ...Registration) (*Dispatcher, error) {
	d := &Dispatcher{
		table:   make(map[tableKey]engine.LifecycleHandler, len(regs)),
		pollers: make(map[engine.ResourceKind]engine.LifecycleHandler),
	}
	if err := d.add(regs); err != nil {
		return nil, err
	}
	return d, nil
}

// With returns a new dispatcher holding the receiver's registrations plus regs.
// The receiver is left unchanged.
func (d *Dispatcher) With(regs ...Registration) (*Dispatcher, error) {
	next := &Dispatcher{
		table:   make(map[tableKey]engine.LifecycleHandler, len(d.table)+len(regs)),
		pollers: make(map[engine.ResourceKind]engine.LifecycleHandler, len(d.pollers)),
	}
	for k, h := range d.table {
		next.table[k] = h
	}
	for k, h := range d.pollers {
		next.pollers[k] = h
	}
	if err := next.add(regs); err != nil {
		return nil, err
	}
	return next, nil
}

func (d *Dispatcher) add(regs []Registration) error {
	for _, reg := range regs {
		if err := reg.Kind.Validate(); err != nil {
			return engine.NewConfigurationError("cannot register handler", err)
		}
		if err := reg.Step.Validate(); err != nil {
			return engine.NewConfigurationError("cannot register handler", err)
		}
		if reg.Handler == nil {
			return engine.NewConfigurationError(
				fmt.Sprintf("nil handler registered for %s/%s", reg.Kind, reg.Step), nil)
		}
		if reg.Handler.Kind() != reg.Kind {
			return engine.NewConfigurationError(
				fmt.Sprintf("handler for %s registered under %s/%s", reg.Handler.Kind(), reg.Kind, reg.Step), nil)
		}

		key := tableKey{kind: reg.Kind, step: reg.Step}
		if _, exists := d.table[key]; exists {
			return engine.NewConfigurationError(
				fmt.Sprintf("duplicate handler for %s/%s", reg.Kind, reg.Step), nil).
				WithCode(engine.ErrCodeAlreadyExists)
		}
		d.table[key] = reg.Handler
		if _, ok := d.pollers[reg.Kind]; !ok {
			d.pollers[reg.Kind] = reg.Handler
		}
	}
	return nil
}

// Require checks that every step of every kind is registered.
func (d *Dispatcher) Require(kinds ...engine.ResourceKind) error {
	for _, kind := range kinds {
		for _, step := range engine.AllSteps {
			if !d.Accepts(kind, step) {
				return engine.NewConfigurationError(
					fmt.Sprintf("no handler registered for %s/%s", kind, step), nil)
			}
		}
	}
	return nil
}

// Accepts reports whether a handler is registered for the pair.
func (d *Dispatcher) Accepts(kind engine.ResourceKind, step engine.LifecycleStep) bool {
	_, ok := d.table[tableKey{kind: kind, step: step}]
	return ok
}

// Dispatch runs step on the resource id through the registered handler.
// It never panics and never returns nil: failures come back as FINISHED_FAILED.
func (d *Dispatcher) Dispatch(ctx context.Context, kind engine.ResourceKind, step engine.LifecycleStep, id string, actx engine.ActivationContext) (status *engine.TaskStatus) {
	handler, ok := d.table[tableKey{kind: kind, step: step}]
	if !ok {
		telemetry.FromContext(ctx).WithKind(string(kind), string(step)).WithResourceID(id).
			Error("no handler registered")
		return engine.FailedTask(kind, step, id, kind.DisplayName(),
			fmt.Sprintf("no handler registered for %s/%s", kind, step))
	}

	lc := telemetry.StartLifecycle(ctx, string(kind), string(step), id)
	defer func() {
		if r := recover(); r != nil {
			lc.Logger.Zerolog().Error().Interface("panic", r).Msg("lifecycle handler panicked")
			status = engine.FailedTask(kind, step, id, kind.DisplayName(), fmt.Sprintf("handler panicked: %v", r))
		}
		lc.End(status.TaskID, string(status.State), status.ErrorMessage)
	}()

	switch step {
	case engine.StepActivate:
		status = handler.Activate(lc.Ctx, id, actx)
	case engine.StepFirstStart:
		status = handler.FirstStart(lc.Ctx, id)
	case engine.StepStart:
		status = handler.Start(lc.Ctx, id)
	case engine.StepStop:
		status = handler.Stop(lc.Ctx, id)
	case engine.StepDelete:
		status = handler.Delete(lc.Ctx, id)
	}

	if status == nil {
		status = engine.FailedTask(kind, step, id, kind.DisplayName(), "handler returned no status")
	}
	return status
}

// Poll refreshes status through the handler of its kind.
// Terminal statuses are returned unchanged.
func (d *Dispatcher) Poll(ctx context.Context, status *engine.TaskStatus) (result *engine.TaskStatus) {
	if status == nil || status.IsTerminal() {
		return status
	}

	handler, ok := d.pollers[status.ResourceKind]
	if !ok {
		failed := status.Clone()
		failed.Fail(fmt.Sprintf("no handler registered for %s", status.ResourceKind))
		return failed
	}

	defer func() {
		if r := recover(); r != nil {
			telemetry.FromContext(ctx).WithTaskID(status.TaskID).Zerolog().Error().
				Interface("panic", r).Msg("lifecycle poll panicked")
			result = status.Clone()
			result.Fail(fmt.Sprintf("poll panicked: %v", r))
		}
	}()

	result = handler.Poll(ctx, status)
	if result == nil {
		result = status
	}
	return result
}
