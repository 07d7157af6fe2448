package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// TechnicalDeploymentHandler drives every resource of a technical deployment
// through the child dispatcher and aggregates their statuses.
//
// Activate, firststart and start visit resources in declared order; stop and
// delete visit them in reverse. A failing child does not stop its siblings.
type TechnicalDeploymentHandler struct {
	base
	children engine.StepDispatcher
}

var _ engine.LifecycleHandler = (*TechnicalDeploymentHandler)(nil)

// NewTechnicalDeploymentHandler creates the aggregate handler over children.
func NewTechnicalDeploymentHandler(common Common, children engine.StepDispatcher) (*TechnicalDeploymentHandler, error) {
	if children == nil {
		return nil, engine.NewConfigurationError("technical deployment handler requires a child dispatcher", nil)
	}
	b, err := newBase(engine.KindTechnicalDeployment, "technical-deployment", common)
	if err != nil {
		return nil, err
	}
	return &TechnicalDeploymentHandler{base: b, children: children}, nil
}

// Activate activates every contained resource.
func (h *TechnicalDeploymentHandler) Activate(ctx context.Context, id string, actx engine.ActivationContext) *engine.TaskStatus {
	return h.drive(ctx, engine.StepActivate, id, actx)
}

// FirstStart runs the first start of every contained resource.
func (h *TechnicalDeploymentHandler) FirstStart(ctx context.Context, id string) *engine.TaskStatus {
	return h.drive(ctx, engine.StepFirstStart, id, engine.ActivationContext{})
}

// Start starts every contained resource.
func (h *TechnicalDeploymentHandler) Start(ctx context.Context, id string) *engine.TaskStatus {
	return h.drive(ctx, engine.StepStart, id, engine.ActivationContext{})
}

// Stop stops every contained resource, last declared first.
func (h *TechnicalDeploymentHandler) Stop(ctx context.Context, id string) *engine.TaskStatus {
	return h.drive(ctx, engine.StepStop, id, engine.ActivationContext{})
}

// Delete deletes every contained resource, last declared first.
func (h *TechnicalDeploymentHandler) Delete(ctx context.Context, id string) *engine.TaskStatus {
	return h.drive(ctx, engine.StepDelete, id, engine.ActivationContext{})
}

// Poll re-polls the children still in flight and aggregates again.
func (h *TechnicalDeploymentHandler) Poll(ctx context.Context, status *engine.TaskStatus) *engine.TaskStatus {
	if status == nil || status.IsTerminal() {
		return status
	}
	return h.Tracker.Poll(ctx, status, h.refresh)
}

func (h *TechnicalDeploymentHandler) drive(ctx context.Context, step engine.LifecycleStep, id string, actx engine.ActivationContext) *engine.TaskStatus {
	status := h.newStatus(step, id)
	td, ok := load[*engine.TechnicalDeployment](ctx, &h.base, status, id)
	if !ok {
		return status
	}
	if actx.EnvironmentID == "" {
		actx.EnvironmentID = td.EnvironmentID
	}

	logger := telemetry.FromContext(ctx)
	for _, ref := range orderFor(step, td.Resources) {
		child := h.children.Dispatch(ctx, ref.Kind, step, ref.ID, actx)
		logger.Zerolog().Debug().
			Str("child_kind", string(ref.Kind)).
			Str("child_id", ref.ID).
			Str("child_state", string(child.State)).
			Msg("child dispatched")
		status.AddSubtask(child)
	}

	if h.settle(ctx, status, td) {
		return status
	}
	return h.Tracker.Register(ctx, status)
}

func (h *TechnicalDeploymentHandler) refresh(ctx context.Context, current *engine.TaskStatus) (*engine.TaskStatus, error) {
	next := current.Clone()
	for i, child := range next.Subtasks {
		if child.IsTerminal() {
			continue
		}
		next.Subtasks[i] = h.children.Poll(ctx, child)
	}

	td, ok := load[*engine.TechnicalDeployment](ctx, &h.base, next, current.ResourceID)
	if !ok {
		return next, nil
	}
	h.settle(ctx, next, td)
	return next, nil
}

// settle aggregates the subtasks into status. It returns true when status is terminal.
func (h *TechnicalDeploymentHandler) settle(ctx context.Context, status *engine.TaskStatus, td *engine.TechnicalDeployment) bool {
	running, failures, percent := aggregate(status.Subtasks)
	status.SetProgress(percent)
	if running > 0 {
		status.Subtitle = fmt.Sprintf("%d of %d resources in progress", running, len(status.Subtasks))
		return false
	}

	name := nameOrID(&td.ResourceMeta)
	if len(failures) > 0 {
		err := fmt.Errorf("%d of %d resources failed: %s", len(failures), len(status.Subtasks), strings.Join(failures, "; "))
		h.failAndSave(ctx, status, td, err)
		return true
	}

	h.setState(&td.ResourceMeta, stateAfter(status.Step))
	h.finish(ctx, status, td, h.title(name, status.Step))
	return true
}

// aggregate counts in-flight children, collects failure messages and averages
// known progress.
func aggregate(children []*engine.TaskStatus) (running int, failures []string, percent int) {
	if len(children) == 0 {
		return 0, nil, 100
	}
	known, total := 0, 0
	for _, child := range children {
		switch {
		case child.Failed():
			failures = append(failures, fmt.Sprintf("%s: %s", child.Title, child.ErrorMessage))
		case !child.IsTerminal():
			running++
		}
		p := child.PercentComplete
		if child.IsTerminal() {
			p = 100
		}
		if p >= 0 {
			known++
			total += p
		}
	}
	if known == 0 {
		return running, failures, engine.PercentUnknown
	}
	return running, failures, total / known
}

func orderFor(step engine.LifecycleStep, refs []engine.ResourceRef) []engine.ResourceRef {
	ordered := make([]engine.ResourceRef, len(refs))
	copy(ordered, refs)
	if step.IsTeardown() {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}
	return ordered
}

// stateAfter is the technical deployment state after step succeeded.
func stateAfter(step engine.LifecycleStep) engine.ActivationState {
	switch step {
	case engine.StepActivate:
		return engine.ActivationActivated
	case engine.StepFirstStart, engine.StepStart:
		return engine.ActivationStarted
	case engine.StepStop:
		return engine.ActivationStopped
	case engine.StepDelete:
		return engine.ActivationRemoved
	default:
		return engine.ActivationActivated
	}
}
