package engine

import (
	"encoding/json"
	"fmt"
)

// TaskState represents the progress of one asynchronous lifecycle operation.
type TaskState string

const (
	// TaskNotStarted indicates the operation has been registered but not started.
	TaskNotStarted TaskState = "NOT_STARTED"

	// TaskStarted indicates the operation is in flight.
	TaskStarted TaskState = "STARTED"

	// TaskFinishedOK indicates the operation completed successfully.
	TaskFinishedOK TaskState = "FINISHED_OK"

	// TaskFinishedFailed indicates the operation completed with an error.
	TaskFinishedFailed TaskState = "FINISHED_FAILED"
)

// IsTerminal returns true if the task state represents a final state.
func (s TaskState) IsTerminal() bool {
	return s == TaskFinishedOK || s == TaskFinishedFailed
}

// Validate checks if the task state is valid.
func (s TaskState) Validate() error {
	switch s {
	case TaskNotStarted, TaskStarted, TaskFinishedOK, TaskFinishedFailed:
		return nil
	default:
		return fmt.Errorf("invalid task state: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s TaskState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *TaskState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = TaskState(str)
	return s.Validate()
}

// ActivationState is the provider-side state of a single resource.
type ActivationState string

const (
	// ActivationNotActivated indicates the resource was never created at the provider.
	ActivationNotActivated ActivationState = "NOT_ACTIVATED"

	// ActivationActivating indicates an asynchronous activation is in flight.
	ActivationActivating ActivationState = "ACTIVATING"

	// ActivationActivated indicates the provider created the resource.
	ActivationActivated ActivationState = "ACTIVATED"

	// ActivationStarting indicates the resource is being started.
	ActivationStarting ActivationState = "STARTING"

	// ActivationStarted indicates the resource is running.
	ActivationStarted ActivationState = "STARTED"

	// ActivationStopping indicates the resource is being stopped.
	ActivationStopping ActivationState = "STOPPING"

	// ActivationStopped indicates the resource is stopped but still exists.
	ActivationStopped ActivationState = "STOPPED"

	// ActivationRemoving indicates the resource is being deleted.
	ActivationRemoving ActivationState = "REMOVING"

	// ActivationRemoved marks a deleted resource. Physical disposal is left to the store.
	ActivationRemoved ActivationState = "REMOVED"

	// ActivationFailed indicates the last provider call for the resource failed.
	ActivationFailed ActivationState = "FAILED"
)

// IsActivated returns true if the resource exists at the provider.
func (s ActivationState) IsActivated() bool {
	switch s {
	case ActivationActivated, ActivationStarting, ActivationStarted,
		ActivationStopping, ActivationStopped, ActivationRemoving:
		return true
	default:
		return false
	}
}

// Validate checks if the activation state is valid.
func (s ActivationState) Validate() error {
	switch s {
	case ActivationNotActivated, ActivationActivating, ActivationActivated,
		ActivationStarting, ActivationStarted, ActivationStopping, ActivationStopped,
		ActivationRemoving, ActivationRemoved, ActivationFailed:
		return nil
	default:
		return fmt.Errorf("invalid activation state: %s", s)
	}
}

// EnvironmentState is the lifecycle state of a whole environment.
type EnvironmentState string

const (
	EnvironmentTransient EnvironmentState = "TRANSIENT"
	EnvironmentCreating  EnvironmentState = "CREATING"
	EnvironmentCreated   EnvironmentState = "CREATED"
	EnvironmentStarting  EnvironmentState = "STARTING"
	EnvironmentStarted   EnvironmentState = "STARTED"
	EnvironmentRunning   EnvironmentState = "RUNNING"
	EnvironmentStopping  EnvironmentState = "STOPPING"
	EnvironmentStopped   EnvironmentState = "STOPPED"
	EnvironmentRemoving  EnvironmentState = "REMOVING"
	EnvironmentRemoved   EnvironmentState = "REMOVED"
	EnvironmentFailed    EnvironmentState = "FAILED"
	EnvironmentUnknown   EnvironmentState = "UNKNOWN"
)

// environmentTransitions lists the legal successors of each state.
// FAILED is added for every non-terminal state in CanTransition.
var environmentTransitions = map[EnvironmentState][]EnvironmentState{
	EnvironmentTransient: {EnvironmentCreating},
	EnvironmentCreating:  {EnvironmentCreated, EnvironmentRunning},
	EnvironmentCreated:   {EnvironmentStarting, EnvironmentRunning, EnvironmentRemoving},
	EnvironmentStarting:  {EnvironmentStarted, EnvironmentRunning},
	EnvironmentStarted:   {EnvironmentRunning, EnvironmentStopping, EnvironmentRemoving},
	EnvironmentRunning:   {EnvironmentStopping, EnvironmentRemoving},
	EnvironmentStopping:  {EnvironmentStopped},
	EnvironmentStopped:   {EnvironmentStarting, EnvironmentRemoving},
	EnvironmentRemoving:  {EnvironmentRemoved},
	EnvironmentFailed:    {EnvironmentStarting, EnvironmentStopping, EnvironmentRemoving},
	EnvironmentUnknown:   {EnvironmentStarting, EnvironmentStopping, EnvironmentRemoving},
}

// IsTerminal returns true if the environment can no longer change state.
func (s EnvironmentState) IsTerminal() bool {
	return s == EnvironmentRemoved
}

// IsTransitional returns true if an operation on the environment is in flight.
func (s EnvironmentState) IsTransitional() bool {
	switch s {
	case EnvironmentCreating, EnvironmentStarting, EnvironmentStopping, EnvironmentRemoving:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the environment may move from s to next.
func (s EnvironmentState) CanTransition(next EnvironmentState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == EnvironmentFailed || next == EnvironmentUnknown {
		return true
	}
	for _, allowed := range environmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validate checks if the environment state is valid.
func (s EnvironmentState) Validate() error {
	switch s {
	case EnvironmentTransient, EnvironmentCreating, EnvironmentCreated,
		EnvironmentStarting, EnvironmentStarted, EnvironmentRunning,
		EnvironmentStopping, EnvironmentStopped, EnvironmentRemoving,
		EnvironmentRemoved, EnvironmentFailed, EnvironmentUnknown:
		return nil
	default:
		return fmt.Errorf("invalid environment state: %s", s)
	}
}

// ParseEnvironmentState converts a stored string into a state, falling back to UNKNOWN.
func ParseEnvironmentState(raw string) EnvironmentState {
	s := EnvironmentState(raw)
	if s.Validate() != nil {
		return EnvironmentUnknown
	}
	return s
}

// ResourceKind tags the concrete type of a resource for dispatch.
type ResourceKind string

const (
	KindApp                 ResourceKind = "app"
	KindRoute               ResourceKind = "route"
	KindSpace               ResourceKind = "space"
	KindOrganization        ResourceKind = "organization"
	KindManagedService      ResourceKind = "managed-service"
	KindUserProvidedService ResourceKind = "user-provided-service"
	KindDatabase            ResourceKind = "database"
	KindTechnicalDeployment ResourceKind = "technical-deployment"
)

// AllKinds lists every resource kind the engine knows how to dispatch.
var AllKinds = []ResourceKind{
	KindApp,
	KindRoute,
	KindSpace,
	KindOrganization,
	KindManagedService,
	KindUserProvidedService,
	KindDatabase,
	KindTechnicalDeployment,
}

// Validate checks if the resource kind is known.
func (k ResourceKind) Validate() error {
	for _, known := range AllKinds {
		if k == known {
			return nil
		}
	}
	return fmt.Errorf("invalid resource kind: %s", k)
}

// DisplayName returns the kind as used in task titles.
func (k ResourceKind) DisplayName() string {
	switch k {
	case KindApp:
		return "App"
	case KindRoute:
		return "Route"
	case KindSpace:
		return "Space"
	case KindOrganization:
		return "Organization"
	case KindManagedService:
		return "Service"
	case KindUserProvidedService:
		return "User provided service"
	case KindDatabase:
		return "Database"
	case KindTechnicalDeployment:
		return "Technical deployment"
	default:
		return string(k)
	}
}

// LifecycleStep is one of the verbs every resource kind exposes.
type LifecycleStep string

const (
	StepActivate   LifecycleStep = "activate"
	StepFirstStart LifecycleStep = "firststart"
	StepStart      LifecycleStep = "start"
	StepStop       LifecycleStep = "stop"
	StepDelete     LifecycleStep = "delete"
)

// AllSteps lists the lifecycle steps in their natural order.
var AllSteps = []LifecycleStep{StepActivate, StepFirstStart, StepStart, StepStop, StepDelete}

// Validate checks if the lifecycle step is known.
func (s LifecycleStep) Validate() error {
	switch s {
	case StepActivate, StepFirstStart, StepStart, StepStop, StepDelete:
		return nil
	default:
		return fmt.Errorf("invalid lifecycle step: %s", s)
	}
}

// PastTense returns the verb used in completion titles ("activated", "deleted", ...).
func (s LifecycleStep) PastTense() string {
	switch s {
	case StepActivate:
		return "activated"
	case StepFirstStart:
		return "first started"
	case StepStart:
		return "started"
	case StepStop:
		return "stopped"
	case StepDelete:
		return "deleted"
	default:
		return string(s)
	}
}

// IsTeardown returns true for steps that run over resources in reverse order.
func (s LifecycleStep) IsTeardown() bool {
	return s == StepStop || s == StepDelete
}
