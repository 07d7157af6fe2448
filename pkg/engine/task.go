package engine

import (
	"time"

	"github.com/google/uuid"
)

// PercentUnknown is reported when an operation cannot estimate its progress.
const PercentUnknown = -1

// TaskStatus is the tracked progress and outcome of one lifecycle operation.
// Once State is terminal the status is immutable: every mutator is a no-op.
type TaskStatus struct {
	// TaskID is assigned once when the operation is created.
	TaskID string `json:"task_id"`

	// State is the current progress state.
	State TaskState `json:"state"`

	// Title is a human-readable description set by the handler.
	Title string `json:"title,omitempty"`

	// Subtitle carries secondary detail such as the provider correlation.
	Subtitle string `json:"subtitle,omitempty"`

	// ErrorMessage is set only in FINISHED_FAILED.
	ErrorMessage string `json:"error_message,omitempty"`

	// StartTime is when the operation started.
	StartTime time.Time `json:"start_time"`

	// EndTime is set on transition to a terminal state.
	EndTime *time.Time `json:"end_time,omitempty"`

	// SuggestedTimeoutSeconds is an advisory deadline for pollers.
	SuggestedTimeoutSeconds int `json:"suggested_timeout_seconds,omitempty"`

	// PercentComplete is within 0..100, or PercentUnknown.
	PercentComplete int `json:"percent_complete"`

	// ResourceKind is the kind of resource the operation targets.
	ResourceKind ResourceKind `json:"resource_kind,omitempty"`

	// ResourceID is the identifier of the targeted resource.
	ResourceID string `json:"resource_id,omitempty"`

	// Step is the lifecycle step being executed.
	Step LifecycleStep `json:"step,omitempty"`

	// Correlation is the provider-side handle used to refresh the status.
	Correlation string `json:"correlation,omitempty"`

	// Subtasks are the child operations in execution order.
	Subtasks []*TaskStatus `json:"subtasks,omitempty"`
}

// NewTaskStatus creates a NOT_STARTED status for an operation on a resource.
func NewTaskStatus(kind ResourceKind, step LifecycleStep, resourceID string) *TaskStatus {
	return &TaskStatus{
		TaskID:          uuid.New().String(),
		State:           TaskNotStarted,
		PercentComplete: PercentUnknown,
		ResourceKind:    kind,
		ResourceID:      resourceID,
		Step:            step,
	}
}

// StartedTask creates a status that is already in flight.
func StartedTask(kind ResourceKind, step LifecycleStep, resourceID, title string) *TaskStatus {
	t := NewTaskStatus(kind, step, resourceID)
	t.Title = title
	t.Start()
	return t
}

// SucceededTask creates a status that finished successfully.
func SucceededTask(kind ResourceKind, step LifecycleStep, resourceID, title string) *TaskStatus {
	t := NewTaskStatus(kind, step, resourceID)
	t.Start()
	t.Succeed(title)
	return t
}

// FailedTask creates a status that finished with the given error message.
func FailedTask(kind ResourceKind, step LifecycleStep, resourceID, title, errMsg string) *TaskStatus {
	t := NewTaskStatus(kind, step, resourceID)
	t.Title = title
	t.Start()
	t.Fail(errMsg)
	return t
}

// IsTerminal returns true once the status reached FINISHED_OK or FINISHED_FAILED.
func (t *TaskStatus) IsTerminal() bool {
	return t != nil && t.State.IsTerminal()
}

// Succeeded returns true if the status finished successfully.
func (t *TaskStatus) Succeeded() bool {
	return t != nil && t.State == TaskFinishedOK
}

// Failed returns true if the status finished with an error.
func (t *TaskStatus) Failed() bool {
	return t != nil && t.State == TaskFinishedFailed
}

// Start moves a NOT_STARTED status to STARTED.
func (t *TaskStatus) Start() {
	if t.IsTerminal() {
		return
	}
	t.State = TaskStarted
	if t.StartTime.IsZero() {
		t.StartTime = time.Now()
	}
}

// Succeed finishes the status with FINISHED_OK.
func (t *TaskStatus) Succeed(title string) {
	if t.IsTerminal() {
		return
	}
	if title != "" {
		t.Title = title
	}
	t.finish(TaskFinishedOK)
	t.PercentComplete = 100
}

// Fail finishes the status with FINISHED_FAILED and the captured message.
func (t *TaskStatus) Fail(errMsg string) {
	if t.IsTerminal() {
		return
	}
	t.ErrorMessage = errMsg
	t.finish(TaskFinishedFailed)
}

func (t *TaskStatus) finish(state TaskState) {
	now := time.Now()
	if t.StartTime.IsZero() {
		t.StartTime = now
	}
	t.State = state
	t.EndTime = &now
}

// SetProgress records the completion estimate, clamped to 0..100.
func (t *TaskStatus) SetProgress(percent int) {
	if t.IsTerminal() {
		return
	}
	switch {
	case percent < 0:
		t.PercentComplete = PercentUnknown
	case percent > 100:
		t.PercentComplete = 100
	default:
		t.PercentComplete = percent
	}
}

// AddSubtask appends a child status.
func (t *TaskStatus) AddSubtask(child *TaskStatus) {
	if t.IsTerminal() || child == nil {
		return
	}
	t.Subtasks = append(t.Subtasks, child)
}

// Merge copies the progress of a refreshed status into t.
// It returns false when t is terminal and was left untouched.
func (t *TaskStatus) Merge(from *TaskStatus) bool {
	if t.IsTerminal() || from == nil {
		return false
	}
	t.State = from.State
	if from.Title != "" {
		t.Title = from.Title
	}
	if from.Subtitle != "" {
		t.Subtitle = from.Subtitle
	}
	if from.Correlation != "" {
		t.Correlation = from.Correlation
	}
	t.ErrorMessage = from.ErrorMessage
	if !from.StartTime.IsZero() && (t.StartTime.IsZero() || from.StartTime.Before(t.StartTime)) {
		t.StartTime = from.StartTime
	}
	if from.EndTime != nil {
		end := *from.EndTime
		t.EndTime = &end
	}
	if from.SuggestedTimeoutSeconds > 0 {
		t.SuggestedTimeoutSeconds = from.SuggestedTimeoutSeconds
	}
	t.PercentComplete = from.PercentComplete
	if len(from.Subtasks) > 0 {
		t.Subtasks = cloneSubtasks(from.Subtasks)
	}
	if t.State.IsTerminal() && t.EndTime == nil {
		now := time.Now()
		t.EndTime = &now
	}
	return true
}

// Clone returns a deep copy of the status.
func (t *TaskStatus) Clone() *TaskStatus {
	if t == nil {
		return nil
	}
	c := *t
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	c.Subtasks = cloneSubtasks(t.Subtasks)
	return &c
}

// Deadline returns the advisory deadline derived from SuggestedTimeoutSeconds.
func (t *TaskStatus) Deadline() (time.Time, bool) {
	if t.SuggestedTimeoutSeconds <= 0 || t.StartTime.IsZero() {
		return time.Time{}, false
	}
	return t.StartTime.Add(time.Duration(t.SuggestedTimeoutSeconds) * time.Second), true
}

// Duration returns how long the operation ran, or has been running.
func (t *TaskStatus) Duration() time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	if t.EndTime != nil {
		return t.EndTime.Sub(t.StartTime)
	}
	return time.Since(t.StartTime)
}

func cloneSubtasks(in []*TaskStatus) []*TaskStatus {
	if in == nil {
		return nil
	}
	out := make([]*TaskStatus, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}
