package engine

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/activator/pkg/telemetry"
)

// RefreshFunc asks the owner of a task for its latest known status.
// It runs outside the tracker lock and must not block on provider completion.
// A nil status with a nil error means nothing changed.
type RefreshFunc func(ctx context.Context, current *TaskStatus) (*TaskStatus, error)

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Workers is the number of goroutines running submitted work.
	Workers int

	// QueueSize bounds the number of submitted jobs waiting for a worker.
	QueueSize int

	// Retention is how long terminal statuses stay queryable. Zero keeps them forever.
	Retention time.Duration

	// Sink optionally receives a snapshot of every transition.
	Sink TaskSink

	// Metrics and Events are optional.
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
}

// DefaultTrackerConfig returns the tracker defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Workers:   4,
		QueueSize: 64,
		Retention: time.Hour,
	}
}

type trackedTask struct {
	status     *TaskStatus
	finishedAt time.Time
}

// Tracker holds the status of every asynchronous lifecycle operation.
// A single mutex guards the map; every update of one task id is totally ordered by it.
type Tracker struct {
	cfg  TrackerConfig
	pool *WorkerPool
	now  func() time.Time

	mu    sync.Mutex
	tasks map[string]*trackedTask
}

// NewTracker creates a tracker and starts its worker pool.
func NewTracker(cfg TrackerConfig) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}

	return &Tracker{
		cfg:   cfg,
		pool:  NewWorkerPool(cfg.Workers, cfg.QueueSize),
		now:   time.Now,
		tasks: make(map[string]*trackedTask),
	}
}

// Register starts tracking status and returns a copy of the tracked entry.
// Registering an id that is already tracked merges status into the existing entry.
func (t *Tracker) Register(ctx context.Context, status *TaskStatus) *TaskStatus {
	if status == nil {
		return nil
	}

	t.mu.Lock()
	t.sweepLocked()
	entry, ok := t.tasks[status.TaskID]
	if ok {
		entry.status.Merge(status)
	} else {
		entry = &trackedTask{status: status.Clone()}
		t.tasks[status.TaskID] = entry
	}
	if entry.status.IsTerminal() && entry.finishedAt.IsZero() {
		entry.finishedAt = t.now()
	}
	snapshot := entry.status.Clone()
	count := len(t.tasks)
	t.mu.Unlock()

	t.cfg.Metrics.SetTasksTracked(count)
	telemetry.FromContext(ctx).WithTaskID(snapshot.TaskID).WithResourceID(snapshot.ResourceID).Zerolog().Debug().
		Str("state", string(snapshot.State)).
		Msg("task registered")
	t.record(ctx, snapshot, !ok)
	return snapshot
}

// Get returns a copy of the tracked status.
func (t *Tracker) Get(taskID string) (*TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tasks[taskID]
	if !ok {
		return nil, false
	}
	return entry.status.Clone(), true
}

// Update merges status into the tracked entry of the same id.
// It returns false when the id is unknown.
func (t *Tracker) Update(ctx context.Context, status *TaskStatus) (*TaskStatus, bool) {
	if status == nil {
		return nil, false
	}

	t.mu.Lock()
	entry, ok := t.tasks[status.TaskID]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	finished := t.mergeLocked(entry, status)
	snapshot := entry.status.Clone()
	t.mu.Unlock()

	if finished {
		t.recordCompletion(ctx, snapshot)
	}
	return snapshot, true
}

// Poll returns the freshest known status for the given one.
//
// A terminal status is returned as is: no lookup, no refresh. Otherwise the
// tracked entry is refreshed through refresh (when not nil), merged, and a
// copy is returned. Statuses not yet tracked are adopted.
func (t *Tracker) Poll(ctx context.Context, status *TaskStatus, refresh RefreshFunc) *TaskStatus {
	if status == nil || status.IsTerminal() {
		return status
	}

	t.mu.Lock()
	entry, ok := t.tasks[status.TaskID]
	if !ok {
		entry = &trackedTask{status: status.Clone()}
		t.tasks[status.TaskID] = entry
	}
	current := entry.status.Clone()
	t.mu.Unlock()

	if current.IsTerminal() || refresh == nil {
		return current
	}

	fresh, err := refresh(ctx, current.Clone())
	if err != nil {
		telemetry.FromContext(ctx).WithTaskID(current.TaskID).WithError(err).Error("task refresh failed")
		fresh = current.Clone()
		fresh.Fail(err.Error())
	}
	if fresh == nil {
		return current
	}

	t.mu.Lock()
	finished := t.mergeLocked(entry, fresh)
	snapshot := entry.status.Clone()
	t.mu.Unlock()

	if finished {
		t.recordCompletion(ctx, snapshot)
	}
	return snapshot
}

// Submit runs fn on the worker pool and tracks its outcome under status.
//
// The status is started and registered before fn is queued. fn receives a
// context detached from the caller's cancellation that carries the caller's
// logger tagged with the task id; nothing else outlives the call. On return
// the task finishes with successTitle, or fails with the error message. A
// full queue fails the task immediately.
func (t *Tracker) Submit(ctx context.Context, status *TaskStatus, successTitle string, fn func(ctx context.Context) error) *TaskStatus {
	status.Start()
	registered := t.Register(ctx, status)
	taskID := registered.TaskID

	logger := telemetry.FromContext(ctx).WithTaskID(taskID)
	workerCtx := logger.WithContext(context.WithoutCancel(ctx))

	err := t.pool.Submit(func() {
		logger.Debug("background task running")
		runErr := fn(workerCtx)
		t.Complete(workerCtx, taskID, successTitle, runErr)
	})
	if err != nil {
		t.cfg.Metrics.RecordTaskRejected()
		logger.WithError(err).Error("background task rejected")
		return t.Complete(ctx, taskID, successTitle, err)
	}
	return registered
}

// Complete finishes the tracked task: FINISHED_OK with title when err is nil,
// FINISHED_FAILED with the error message otherwise. A task that is already
// terminal is left untouched.
func (t *Tracker) Complete(ctx context.Context, taskID, title string, err error) *TaskStatus {
	t.mu.Lock()
	entry, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	wasTerminal := entry.status.IsTerminal()
	if err != nil {
		entry.status.Fail(err.Error())
	} else {
		entry.status.Succeed(title)
	}
	if !wasTerminal {
		entry.finishedAt = t.now()
	}
	snapshot := entry.status.Clone()
	t.mu.Unlock()

	if !wasTerminal {
		t.recordCompletion(ctx, snapshot)
	}
	return snapshot
}

// Len returns the number of tracked statuses.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Sweep evicts terminal statuses older than the retention and returns how many were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	removed := t.sweepLocked()
	count := len(t.tasks)
	t.mu.Unlock()

	if removed > 0 {
		t.cfg.Metrics.SetTasksTracked(count)
	}
	return removed
}

// Close stops accepting background work and waits for running work to finish.
func (t *Tracker) Close(ctx context.Context) error {
	return t.pool.Close(ctx)
}

// mergeLocked merges fresh into entry and reports whether the entry just became terminal.
func (t *Tracker) mergeLocked(entry *trackedTask, fresh *TaskStatus) bool {
	wasTerminal := entry.status.IsTerminal()
	if !entry.status.Merge(fresh) {
		return false
	}
	if !wasTerminal && entry.status.IsTerminal() {
		entry.finishedAt = t.now()
		return true
	}
	return false
}

func (t *Tracker) sweepLocked() int {
	if t.cfg.Retention <= 0 {
		return 0
	}
	cutoff := t.now().Add(-t.cfg.Retention)
	removed := 0
	for id, entry := range t.tasks {
		if entry.status.IsTerminal() && !entry.finishedAt.IsZero() && entry.finishedAt.Before(cutoff) {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}

func (t *Tracker) recordCompletion(ctx context.Context, snapshot *TaskStatus) {
	t.cfg.Metrics.RecordTaskCompleted(string(snapshot.State))

	logger := telemetry.FromContext(ctx).WithTaskID(snapshot.TaskID).WithResourceID(snapshot.ResourceID)
	if snapshot.Failed() {
		logger.Zerolog().Error().
			Str("error", snapshot.ErrorMessage).
			Dur("duration", snapshot.Duration()).
			Msg("task failed")
	} else {
		logger.Zerolog().Info().
			Str("title", snapshot.Title).
			Dur("duration", snapshot.Duration()).
			Msg("task finished")
	}
	t.record(ctx, snapshot, true)
}

// record forwards a transition to the sink and the event publisher.
func (t *Tracker) record(ctx context.Context, snapshot *TaskStatus, publish bool) {
	if t.cfg.Sink != nil {
		if err := t.cfg.Sink.RecordTaskStatus(ctx, snapshot); err != nil {
			telemetry.FromContext(ctx).WithTaskID(snapshot.TaskID).WithError(err).Warn("failed to record task status")
		}
	}
	if publish {
		_ = t.cfg.Events.PublishTaskTransition(
			snapshot.TaskID, snapshot.ResourceID, string(snapshot.State), snapshot.Title, snapshot.ErrorMessage)
	}
}
