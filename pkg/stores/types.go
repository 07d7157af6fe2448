package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openfroyo/activator/pkg/engine"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLiveEnvironmentExists is returned when a release already has a live environment.
	ErrLiveEnvironmentExists = errors.New("release already has a live environment")
)

// EventLevel is the severity of a persisted event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Event is a persisted telemetry event, tied to a task or environment
type Event struct {
	ID            int64      `json:"id"`
	EventID       string     `json:"event_id"`
	Type          string     `json:"type"`
	Level         EventLevel `json:"level"`
	TaskID        *string    `json:"task_id,omitempty"`
	EnvironmentID *string    `json:"environment_id,omitempty"`
	ResourceID    *string    `json:"resource_id,omitempty"`
	Message       string     `json:"message"`
	Details       *string    `json:"details,omitempty"` // JSON blob
	Timestamp     time.Time  `json:"timestamp"`
}

// EventFilter narrows GetEvents. Nil fields match everything.
type EventFilter struct {
	TaskID        *string
	EnvironmentID *string
	Level         *EventLevel
	Limit         int
	Offset        int
}

// AuditEntry records who performed an environment operation
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "environment.created", "environment.deleted"
	Actor     string    `json:"actor"`               // owner or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // environment or resource ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// EnvironmentFilter narrows ListEnvironments. Empty fields match everything.
type EnvironmentFilter struct {
	ReleaseID string
	OwnerID   string
	State     engine.EnvironmentState
	Limit     int
	Offset    int
}

// Store persists environments, resources, tasks, events and audit entries
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transactions
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Resource operations
	Lookup(ctx context.Context, id string) (engine.Resource, bool, error)
	Save(ctx context.Context, resource engine.Resource) error
	ListResourcesByEnvironment(ctx context.Context, environmentID string) ([]engine.Resource, error)

	// Environment operations
	CreateEnvironment(ctx context.Context, env *engine.Environment, resources []engine.Resource) error
	GetEnvironment(ctx context.Context, id string) (*engine.Environment, error)
	FindLiveEnvironment(ctx context.Context, releaseID string) (*engine.Environment, bool, error)
	UpdateEnvironment(ctx context.Context, env *engine.Environment) error
	ListEnvironments(ctx context.Context, filter EnvironmentFilter) ([]*engine.Environment, error)

	// Task status operations
	RecordTaskStatus(ctx context.Context, status *engine.TaskStatus) error
	GetTaskStatus(ctx context.Context, taskID string) (*engine.TaskStatus, error)

	// Event log
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Audit trail
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
