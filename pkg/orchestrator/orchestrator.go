package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/policy"
	"github.com/openfroyo/activator/pkg/release"
	"github.com/openfroyo/activator/pkg/stores"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// EnvironmentStore persists environments and their audit trail.
type EnvironmentStore interface {
	CreateEnvironment(ctx context.Context, env *engine.Environment, resources []engine.Resource) error
	GetEnvironment(ctx context.Context, id string) (*engine.Environment, error)
	FindLiveEnvironment(ctx context.Context, releaseID string) (*engine.Environment, bool, error)
	UpdateEnvironment(ctx context.Context, env *engine.Environment) error
	ListEnvironments(ctx context.Context, filter stores.EnvironmentFilter) ([]*engine.Environment, error)
	ListResourcesByEnvironment(ctx context.Context, environmentID string) ([]engine.Resource, error)
	CreateAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
	GetTaskStatus(ctx context.Context, taskID string) (*engine.TaskStatus, error)
}

// Projector turns a release into the resources of one environment.
type Projector interface {
	Project(releaseID string, envType engine.EnvironmentType, environmentID string) (*release.Projection, error)
}

// Admission decides whether an environment operation may proceed.
type Admission interface {
	Evaluate(ctx context.Context, req *policy.Request) (*policy.Result, error)
}

var (
	_ EnvironmentStore = (*stores.SQLiteStore)(nil)
	_ Projector        = (*release.Projector)(nil)
	_ Admission        = (*policy.Engine)(nil)
)

// Config tunes the background drivers.
type Config struct {
	// PollInterval is the first delay between polls of an in-flight operation.
	PollInterval time.Duration

	// MaxPollInterval caps the poll backoff.
	MaxPollInterval time.Duration

	// OperationTimeout bounds a step whose status advertises no timeout.
	OperationTimeout time.Duration
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     2 * time.Second,
		MaxPollInterval:  30 * time.Second,
		OperationTimeout: 30 * time.Minute,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store      EnvironmentStore
	Projector  Projector
	Dispatcher engine.StepDispatcher
	Tracker    *engine.Tracker

	// Admission is optional. Without it every request is admitted.
	Admission Admission

	Events *telemetry.EventPublisher
}

// CreateRequest asks for an environment of a release.
type CreateRequest struct {
	ReleaseID string
	Type      engine.EnvironmentType
	OwnerID   string
	Label     string
}

// OperationOptions qualify start, stop and delete requests.
type OperationOptions struct {
	Actor string

	// Force acknowledges protections such as production delete protection.
	Force bool
}

// Operation is the outcome of accepting an environment operation.
type Operation struct {
	Environment *engine.Environment
	Task        *engine.TaskStatus

	// Existing is set when creation returned the live environment of the release.
	Existing bool
}

// ResourceSummary is the state of one resource of an environment.
type ResourceSummary struct {
	ID    string                 `json:"id"`
	Kind  engine.ResourceKind    `json:"kind"`
	Name  string                 `json:"name"`
	State engine.ActivationState `json:"state"`
}

// StatusReport is the observable state of an environment.
type StatusReport struct {
	Environment *engine.Environment `json:"environment"`
	Task        *engine.TaskStatus  `json:"task,omitempty"`
	Resources   []ResourceSummary   `json:"resources"`
}

// Orchestrator drives environments through their lifecycle.
type Orchestrator struct {
	cfg        Config
	store      EnvironmentStore
	projector  Projector
	dispatcher engine.StepDispatcher
	tracker    *engine.Tracker
	admission  Admission
	events     *telemetry.EventPublisher

	releases *KeyedMutex
	newID    func() string
	now      func() time.Time

	closing context.Context
	stop    context.CancelFunc
	drivers sync.WaitGroup
}

// New creates an orchestrator. Store, Projector, Dispatcher and Tracker are required.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, engine.NewConfigurationError("orchestrator requires an environment store", nil)
	case deps.Projector == nil:
		return nil, engine.NewConfigurationError("orchestrator requires a release projector", nil)
	case deps.Dispatcher == nil:
		return nil, engine.NewConfigurationError("orchestrator requires a step dispatcher", nil)
	case deps.Tracker == nil:
		return nil, engine.NewConfigurationError("orchestrator requires a task tracker", nil)
	}

	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}

	closing, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		projector:  deps.Projector,
		dispatcher: deps.Dispatcher,
		tracker:    deps.Tracker,
		admission:  deps.Admission,
		events:     deps.Events,
		releases:   NewKeyedMutex(),
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
		closing:    closing,
		stop:       stop,
	}, nil
}

// CreateEnvironment returns the live environment of the release, or creates
// one and starts activating it in the background.
func (o *Orchestrator) CreateEnvironment(ctx context.Context, req CreateRequest) (op *Operation, err error) {
	ic := telemetry.StartOperation(ctx, "environment.create",
		telemetry.AttrReleaseID.String(req.ReleaseID),
		telemetry.AttrEnvironmentType.String(string(req.Type)),
	)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	if strings.TrimSpace(req.ReleaseID) == "" {
		return nil, engine.NewConfigurationError("release id is required", nil).WithCode(engine.ErrCodeValidation)
	}
	if err := req.Type.Validate(); err != nil {
		return nil, engine.NewConfigurationError("invalid environment type", err).WithCode(engine.ErrCodeValidation)
	}
	if req.Label == "" {
		req.Label = req.ReleaseID
	}

	candidate := &engine.Environment{
		ReleaseID: req.ReleaseID,
		Type:      req.Type,
		OwnerID:   req.OwnerID,
		Label:     req.Label,
		State:     engine.EnvironmentTransient,
	}
	if err := o.admit(ctx, policy.OperationCreate, candidate, OperationOptions{Actor: req.OwnerID}); err != nil {
		return nil, err
	}

	unlock := o.releases.Lock(req.ReleaseID)
	defer unlock()

	if live, ok, err := o.store.FindLiveEnvironment(ctx, req.ReleaseID); err != nil {
		return nil, engine.NewInternalError("failed to look up live environment", err)
	} else if ok {
		ic.Logger.WithEnvironmentID(live.ID).Infof("Release %s already has a live environment", req.ReleaseID)
		return o.existing(live), nil
	}

	env := candidate
	env.ID = o.newID()
	projection, err := o.projector.Project(req.ReleaseID, req.Type, env.ID)
	if err != nil {
		return nil, err
	}
	td := projection.TechnicalDeployment
	env.TechnicalDeploymentID = td.ID
	env.State = engine.EnvironmentCreating

	task := engine.StartedTask(engine.KindTechnicalDeployment, engine.StepActivate, td.ID,
		fmt.Sprintf("Environment %s is being created.", env.Label))
	env.TaskID = task.TaskID

	if err := o.store.CreateEnvironment(ctx, env, projection.All()); err != nil {
		if errors.Is(err, stores.ErrLiveEnvironmentExists) {
			live, ok, findErr := o.store.FindLiveEnvironment(ctx, req.ReleaseID)
			if findErr == nil && ok {
				return o.existing(live), nil
			}
		}
		return nil, engine.NewInternalError("failed to persist environment", err)
	}

	snapshot := o.tracker.Register(ctx, task)
	o.audit(ctx, "environment.created", req.OwnerID, env, map[string]interface{}{
		"release_id": env.ReleaseID,
		"type":       env.Type,
		"label":      env.Label,
	})
	o.observeTransition(ctx, env.ID, engine.EnvironmentTransient, engine.EnvironmentCreating)
	ic.Logger.WithEnvironmentID(env.ID).WithTaskID(task.TaskID).Infof(
		"Creating environment %s for release %s (%d resources)", env.Label, env.ReleaseID, len(td.Resources))

	o.launch(ctx, run{
		env:   env,
		task:  task.TaskID,
		verb:  "created",
		final: engine.EnvironmentRunning,
		steps: []stage{{step: engine.StepActivate, after: engine.EnvironmentCreated}, {step: engine.StepFirstStart}},
	})

	return &Operation{Environment: cloneEnvironment(env), Task: snapshot}, nil
}

// lifecycleOp describes how start, stop and delete treat each current state.
type lifecycleOp struct {
	name    policy.Operation
	step    engine.LifecycleStep
	legal   []engine.EnvironmentState
	noop    []engine.EnvironmentState
	through engine.EnvironmentState
	final   engine.EnvironmentState
	verb    string
}

var (
	startOp = lifecycleOp{
		name:    policy.OperationStart,
		step:    engine.StepStart,
		legal:   []engine.EnvironmentState{engine.EnvironmentStopped, engine.EnvironmentFailed, engine.EnvironmentUnknown},
		noop:    []engine.EnvironmentState{engine.EnvironmentStarting, engine.EnvironmentStarted, engine.EnvironmentRunning},
		through: engine.EnvironmentStarting,
		final:   engine.EnvironmentRunning,
		verb:    "started",
	}
	stopOp = lifecycleOp{
		name:    policy.OperationStop,
		step:    engine.StepStop,
		legal:   []engine.EnvironmentState{engine.EnvironmentStarted, engine.EnvironmentRunning, engine.EnvironmentFailed, engine.EnvironmentUnknown},
		noop:    []engine.EnvironmentState{engine.EnvironmentStopping, engine.EnvironmentStopped},
		through: engine.EnvironmentStopping,
		final:   engine.EnvironmentStopped,
		verb:    "stopped",
	}
	deleteOp = lifecycleOp{
		name: policy.OperationDelete,
		step: engine.StepDelete,
		legal: []engine.EnvironmentState{
			engine.EnvironmentStarted, engine.EnvironmentRunning, engine.EnvironmentStopped,
			engine.EnvironmentFailed, engine.EnvironmentUnknown,
		},
		noop:    []engine.EnvironmentState{engine.EnvironmentRemoving, engine.EnvironmentRemoved},
		through: engine.EnvironmentRemoving,
		final:   engine.EnvironmentRemoved,
		verb:    "deleted",
	}
)

// StartEnvironment starts a stopped or failed environment.
func (o *Orchestrator) StartEnvironment(ctx context.Context, id string, opts OperationOptions) (*Operation, error) {
	return o.operate(ctx, startOp, id, opts)
}

// StopEnvironment stops a running or failed environment.
func (o *Orchestrator) StopEnvironment(ctx context.Context, id string, opts OperationOptions) (*Operation, error) {
	return o.operate(ctx, stopOp, id, opts)
}

// DeleteEnvironment deletes every resource of an environment and retires it.
// The release may then have a new live environment.
func (o *Orchestrator) DeleteEnvironment(ctx context.Context, id string, opts OperationOptions) (*Operation, error) {
	return o.operate(ctx, deleteOp, id, opts)
}

func (o *Orchestrator) operate(ctx context.Context, lop lifecycleOp, id string, opts OperationOptions) (op *Operation, err error) {
	ic := telemetry.StartOperation(ctx, "environment."+string(lop.name), telemetry.AttrEnvironmentID.String(id))
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	env, err := o.getEnvironment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.admit(ctx, lop.name, env, opts); err != nil {
		return nil, err
	}

	unlock := o.releases.Lock(env.ReleaseID)
	defer unlock()

	// Re-read under the lock: a driver may have moved the environment.
	env, err = o.getEnvironment(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case containsState(lop.noop, env.State):
		ic.Logger.WithEnvironmentID(env.ID).Infof("Environment %s is already %s", env.Label, env.State)
		done := engine.SucceededTask(engine.KindTechnicalDeployment, lop.step, env.TechnicalDeploymentID,
			fmt.Sprintf("Environment %s is already %s.", env.Label, strings.ToLower(string(env.State))))
		return &Operation{Environment: env, Task: done}, nil
	case !containsState(lop.legal, env.State) || !env.State.CanTransition(lop.through):
		return nil, engine.NewInvalidTransitionError(env.State, string(lop.name)).WithResource(env.ID)
	}

	task := engine.StartedTask(engine.KindTechnicalDeployment, lop.step, env.TechnicalDeploymentID,
		fmt.Sprintf("Environment %s is being %s.", env.Label, lop.verb))

	from := env.State
	env.TaskID = task.TaskID
	if err := o.setState(ctx, env, lop.through, ""); err != nil {
		return nil, err
	}
	snapshot := o.tracker.Register(ctx, task)
	o.audit(ctx, "environment."+string(lop.name), opts.Actor, env, map[string]interface{}{
		"from":  from,
		"force": opts.Force,
	})

	o.launch(ctx, run{
		env:   env,
		task:  task.TaskID,
		verb:  lop.verb,
		final: lop.final,
		steps: []stage{{step: lop.step}},
	})

	return &Operation{Environment: cloneEnvironment(env), Task: snapshot}, nil
}

// EnvironmentStatus reports an environment with its latest task and resources.
func (o *Orchestrator) EnvironmentStatus(ctx context.Context, id string) (*StatusReport, error) {
	env, err := o.getEnvironment(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Environment: env}
	if env.TaskID != "" {
		if task, err := o.PollTask(ctx, env.TaskID); err == nil {
			report.Task = task
		}
	}

	resources, err := o.store.ListResourcesByEnvironment(ctx, env.ID)
	if err != nil {
		return nil, engine.NewInternalError("failed to list environment resources", err)
	}
	for _, r := range resources {
		meta := r.Meta()
		report.Resources = append(report.Resources, ResourceSummary{
			ID:    meta.ID,
			Kind:  meta.Kind,
			Name:  meta.Name,
			State: meta.ActivationState,
		})
	}
	return report, nil
}

// PollTask returns the current status of a task, from the tracker while it
// is in memory and from the store afterwards.
func (o *Orchestrator) PollTask(ctx context.Context, taskID string) (*engine.TaskStatus, error) {
	if status, ok := o.tracker.Get(taskID); ok {
		return status, nil
	}
	status, err := o.store.GetTaskStatus(ctx, taskID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, &engine.EngineError{
				Class:   engine.ErrorClassNotFound,
				Message: fmt.Sprintf("task %s not found", taskID),
				Code:    engine.ErrCodeNotFound,
				Err:     err,
			}
		}
		return nil, engine.NewInternalError("failed to load task status", err)
	}
	return status, nil
}

// ListEnvironments lists stored environments.
func (o *Orchestrator) ListEnvironments(ctx context.Context, filter stores.EnvironmentFilter) ([]*engine.Environment, error) {
	envs, err := o.store.ListEnvironments(ctx, filter)
	if err != nil {
		return nil, engine.NewInternalError("failed to list environments", err)
	}
	return envs, nil
}

// RefreshMetrics publishes the number of environments in every state.
func (o *Orchestrator) RefreshMetrics(ctx context.Context) error {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return nil
	}
	envs, err := o.ListEnvironments(ctx, stores.EnvironmentFilter{})
	if err != nil {
		return err
	}
	counts := make(map[engine.EnvironmentState]int)
	for _, env := range envs {
		counts[env.State]++
	}
	for _, state := range []engine.EnvironmentState{
		engine.EnvironmentCreating, engine.EnvironmentCreated, engine.EnvironmentStarting,
		engine.EnvironmentStarted, engine.EnvironmentRunning, engine.EnvironmentStopping,
		engine.EnvironmentStopped, engine.EnvironmentRemoving, engine.EnvironmentRemoved,
		engine.EnvironmentFailed, engine.EnvironmentUnknown,
	} {
		tel.Metrics.SetEnvironmentCount(string(state), counts[state])
	}
	return nil
}

// Wait blocks until every background driver has returned.
func (o *Orchestrator) Wait() {
	o.drivers.Wait()
}

// Close cancels the background drivers and waits for them until ctx expires.
// Interrupted operations leave their environment FAILED.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.stop()

	done := make(chan struct{})
	go func() {
		o.drivers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for environment drivers: %w", ctx.Err())
	}
}

func (o *Orchestrator) admit(ctx context.Context, op policy.Operation, env *engine.Environment, opts OperationOptions) error {
	if o.admission == nil {
		return nil
	}

	result, err := o.admission.Evaluate(ctx, &policy.Request{
		Operation: op,
		Environment: policy.EnvironmentInput{
			ID:        env.ID,
			ReleaseID: env.ReleaseID,
			Type:      string(env.Type),
			OwnerID:   env.OwnerID,
			Label:     env.Label,
			State:     string(env.State),
		},
		Actor:     opts.Actor,
		Force:     opts.Force,
		Timestamp: o.now(),
	})
	if err != nil {
		return engine.NewInternalError("policy evaluation failed", err)
	}

	logger := telemetry.FromContext(ctx)
	for _, w := range result.Warnings {
		logger.WithField("policy", w.Policy).Warnf("Policy warning on %s: %s", op, w.Message)
	}
	if result.Allowed {
		return nil
	}

	reasons := result.Reasons()
	for _, v := range result.Violations {
		_ = o.events.PublishPolicyViolation(env.ID, v.Policy, v.Message)
	}
	o.audit(ctx, "environment."+string(op)+".denied", opts.Actor, env, map[string]interface{}{
		"release_id": env.ReleaseID,
		"reasons":    reasons,
	})
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordError(string(engine.ErrorClassInvalidTransition), engine.ErrCodePolicyDenied)
	}
	logger.Warnf("Environment %s denied: %s", op, strings.Join(reasons, "; "))
	return engine.NewPolicyDeniedError(string(op), reasons)
}

func (o *Orchestrator) existing(env *engine.Environment) *Operation {
	op := &Operation{Environment: env, Existing: true}
	if env.TaskID != "" {
		if task, ok := o.tracker.Get(env.TaskID); ok {
			op.Task = task
		}
	}
	return op
}

func (o *Orchestrator) getEnvironment(ctx context.Context, id string) (*engine.Environment, error) {
	env, err := o.store.GetEnvironment(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, &engine.EngineError{
				Class:   engine.ErrorClassNotFound,
				Message: fmt.Sprintf("environment %s not found", id),
				Code:    engine.ErrCodeNotFound,
				Err:     err,
			}
		}
		return nil, engine.NewInternalError("failed to load environment", err)
	}
	return env, nil
}

// setState persists a state change. The caller holds the release lock.
func (o *Orchestrator) setState(ctx context.Context, env *engine.Environment, next engine.EnvironmentState, errMsg string) error {
	from := env.State
	if from == next {
		return nil
	}
	if !from.CanTransition(next) {
		return engine.NewInternalError(fmt.Sprintf("illegal environment transition %s -> %s", from, next), nil).
			WithResource(env.ID)
	}

	env.State = next
	env.ErrorMessage = errMsg
	if err := o.store.UpdateEnvironment(ctx, env); err != nil {
		env.State = from
		return engine.NewInternalError("failed to update environment", err)
	}
	o.observeTransition(ctx, env.ID, from, next)
	return nil
}

func (o *Orchestrator) observeTransition(ctx context.Context, envID string, from, to engine.EnvironmentState) {
	_ = o.events.PublishEnvironmentStateChanged(envID, string(from), string(to))
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordEnvironmentTransition(string(from), string(to))
	}
	telemetry.FromContext(ctx).WithEnvironmentID(envID).Debugf("Environment %s -> %s", from, to)
}

func (o *Orchestrator) audit(ctx context.Context, action, actor string, env *engine.Environment, details map[string]interface{}) {
	if actor == "" {
		actor = "system"
	}
	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     actor,
		Timestamp: o.now().UTC(),
	}
	if env.ID != "" {
		id := env.ID
		entry.TargetID = &id
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			s := string(raw)
			entry.Details = &s
		}
	}
	if err := o.store.CreateAuditEntry(ctx, entry); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warnf("Failed to record audit entry %s", action)
	}
}

func containsState(states []engine.EnvironmentState, s engine.EnvironmentState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func cloneEnvironment(env *engine.Environment) *engine.Environment {
	if env == nil {
		return nil
	}
	c := *env
	return &c
}
