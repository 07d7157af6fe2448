package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// stage is one technical deployment step of an environment operation.
type stage struct {
	step engine.LifecycleStep

	// after is the environment state reached when the step succeeds, if any.
	after engine.EnvironmentState
}

// run is an accepted environment operation handed to a background driver.
type run struct {
	env   *engine.Environment
	task  string
	verb  string
	final engine.EnvironmentState
	steps []stage
}

// launch starts the driver of r. The driver outlives the request context
// but stops when the orchestrator closes.
func (o *Orchestrator) launch(ctx context.Context, r run) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(o.closing, cancel)

	o.drivers.Add(1)
	go func() {
		defer o.drivers.Done()
		defer cancel()
		defer stop()
		o.drive(dctx, r)
	}()
}

func (o *Orchestrator) drive(ctx context.Context, r run) {
	ctx, span := startEnvironmentSpan(ctx, r.env.ID, string(r.steps[0].step))
	defer span.End()

	logger := telemetry.FromContext(ctx).WithEnvironmentID(r.env.ID).WithTaskID(r.task)
	ctx = logger.WithContext(ctx)

	actx := engine.ActivationContext{
		EnvironmentID:   r.env.ID,
		EnvironmentType: r.env.Type,
		ReleaseID:       r.env.ReleaseID,
		Label:           r.env.Label,
		Attributes:      map[string]string{"owner": r.env.OwnerID},
	}

	for i, st := range r.steps {
		status := o.dispatcher.Dispatch(ctx, engine.KindTechnicalDeployment, st.step, r.env.TechnicalDeploymentID, actx)
		status = o.await(ctx, status)
		o.progress(ctx, r.task, status, (i+1)*100/len(r.steps))

		if !status.Succeeded() {
			msg := fmt.Sprintf("%s failed: %s", st.step, status.ErrorMessage)
			logger.Errorf("Environment %s could not be %s: %s", r.env.Label, r.verb, msg)
			o.finish(ctx, r, engine.EnvironmentFailed, msg)
			span.SetAttributes(telemetry.AttrEnvironmentState.String(string(engine.EnvironmentFailed)))
			telemetry.RecordError(span, errors.New(msg))
			return
		}
		if st.after != "" {
			if err := o.advance(ctx, r.env.ID, st.after, ""); err != nil {
				logger.WithError(err).Error("Failed to record environment progress")
			}
		}
	}

	logger.Infof("Environment %s has been %s", r.env.Label, r.verb)
	o.finish(ctx, r, r.final, "")
	span.SetAttributes(telemetry.AttrEnvironmentState.String(string(r.final)))
	telemetry.RecordSuccess(span)
}

// await polls status until it settles, the step deadline passes or ctx ends.
func (o *Orchestrator) await(ctx context.Context, status *engine.TaskStatus) *engine.TaskStatus {
	deadline, ok := status.Deadline()
	if !ok {
		deadline = status.StartTime.Add(o.cfg.OperationTimeout)
		if status.StartTime.IsZero() {
			deadline = o.now().Add(o.cfg.OperationTimeout)
		}
	}

	for attempt := 0; !status.IsTerminal(); attempt++ {
		if !o.now().Before(deadline) {
			return o.abandon(ctx, status, fmt.Sprintf("timed out waiting for %s %s", status.ResourceKind.DisplayName(), status.Step))
		}

		timer := time.NewTimer(engine.PollBackoff(attempt, o.cfg.PollInterval, o.cfg.MaxPollInterval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return o.abandon(context.WithoutCancel(ctx), status, fmt.Sprintf("interrupted: %v", ctx.Err()))
		case <-timer.C:
		}

		status = o.dispatcher.Poll(ctx, status)
	}
	return status
}

// abandon fails a step that will no longer be polled, along with every
// subtask still in flight.
func (o *Orchestrator) abandon(ctx context.Context, status *engine.TaskStatus, reason string) *engine.TaskStatus {
	failed := status.Clone()
	o.abandonSubtasks(ctx, failed.Subtasks, reason)
	failed.Fail(reason)
	if tracked, ok := o.tracker.Update(ctx, failed); ok {
		return tracked
	}
	return failed
}

func (o *Orchestrator) abandonSubtasks(ctx context.Context, subtasks []*engine.TaskStatus, reason string) {
	for i, sub := range subtasks {
		if sub.IsTerminal() {
			continue
		}
		o.abandonSubtasks(ctx, sub.Subtasks, reason)
		if tracked := o.tracker.Complete(ctx, sub.TaskID, "", errors.New(reason)); tracked != nil {
			subtasks[i] = tracked
			continue
		}
		sub.Fail(reason)
	}
}

// progress attaches a settled step to the environment task.
func (o *Orchestrator) progress(ctx context.Context, taskID string, child *engine.TaskStatus, percent int) {
	current, ok := o.tracker.Get(taskID)
	if !ok {
		return
	}
	current.AddSubtask(child)
	if percent < 100 {
		current.SetProgress(percent)
	}
	o.tracker.Update(ctx, current)
}

// finish moves the environment to its final state and completes the task.
func (o *Orchestrator) finish(ctx context.Context, r run, state engine.EnvironmentState, errMsg string) {
	if err := o.advance(ctx, r.env.ID, state, errMsg); err != nil {
		telemetry.FromContext(ctx).WithError(err).Errorf("Failed to move environment to %s", state)
	}

	var err error
	title := fmt.Sprintf("Environment %s has been %s.", r.env.Label, r.verb)
	if errMsg != "" {
		err = errors.New(errMsg)
		title = ""
	}
	o.tracker.Complete(context.WithoutCancel(ctx), r.task, title, err)
}

// advance reloads the environment under its release lock and moves it to next.
func (o *Orchestrator) advance(ctx context.Context, envID string, next engine.EnvironmentState, errMsg string) error {
	ctx = context.WithoutCancel(ctx)

	env, err := o.getEnvironment(ctx, envID)
	if err != nil {
		return err
	}
	unlock := o.releases.Lock(env.ReleaseID)
	defer unlock()

	env, err = o.getEnvironment(ctx, envID)
	if err != nil {
		return err
	}
	return o.setState(ctx, env, next, errMsg)
}

func startEnvironmentSpan(ctx context.Context, envID, op string) (context.Context, trace.Span) {
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil && tel.Tracer != nil {
		return tel.Tracer.StartEnvironmentSpan(ctx, envID, op)
	}
	return ctx, trace.SpanFromContext(context.Background())
}
