package engine

import (
	"context"
	"errors"
)

// Repository loads and saves resource entities by identifier.
type Repository interface {
	// Lookup returns the resource with the given id. A missing resource is
	// reported through the boolean, not the error; the error is reserved for
	// store failures.
	Lookup(ctx context.Context, id string) (Resource, bool, error)

	// Save persists the resource, creating it if needed.
	Save(ctx context.Context, resource Resource) error
}

// ErrArtifactNotFound is returned by an ArtifactResolver for unknown coordinates.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactResolver turns a package coordinate into a downloadable URL.
type ArtifactResolver interface {
	Resolve(ctx context.Context, ref ArtifactRef) (string, error)
}

// AppActivationService performs provider calls for applications.
type AppActivationService interface {
	// Activate pushes the application and returns the provider application id.
	Activate(ctx context.Context, app *Application, actx ActivationContext) (string, error)
	Start(ctx context.Context, app *Application) error
	Stop(ctx context.Context, app *Application) error
	Delete(ctx context.Context, app *Application) error
}

// RouteActivationService performs provider calls for routes.
type RouteActivationService interface {
	Activate(ctx context.Context, route *Route, actx ActivationContext) error
	Delete(ctx context.Context, route *Route) error
}

// SpaceActivationService performs provider calls for spaces.
type SpaceActivationService interface {
	Activate(ctx context.Context, space *Space, actx ActivationContext) error
	Delete(ctx context.Context, space *Space) error
}

// OrganizationActivationService performs provider calls for organizations.
type OrganizationActivationService interface {
	Activate(ctx context.Context, org *Organization, actx ActivationContext) error
	Delete(ctx context.Context, org *Organization) error
}

// ManagedServiceActivationService performs provider calls for marketplace services.
type ManagedServiceActivationService interface {
	// Activate creates the service instance and returns the provider instance id.
	Activate(ctx context.Context, svc *ManagedService, actx ActivationContext) (string, error)
	Delete(ctx context.Context, svc *ManagedService) error
}

// UserProvidedServiceActivationService performs provider calls for user-provided services.
type UserProvidedServiceActivationService interface {
	Activate(ctx context.Context, svc *UserProvidedService, actx ActivationContext) error
	Delete(ctx context.Context, svc *UserProvidedService) error
}

// ProviderStatus is the provider's view of an asynchronous database operation.
type ProviderStatus struct {
	State           TaskState `json:"state"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	PercentComplete int       `json:"percent_complete"`
	DatabaseID      string    `json:"database_id,omitempty"`
}

// DatabaseDescription is the provider's description of a provisioned database.
type DatabaseDescription struct {
	DatabaseID string `json:"database_id"`
	AccessURL  string `json:"access_url"`
	Username   string `json:"username,omitempty"`
	Engine     string `json:"engine,omitempty"`
}

// DatabaseActivationService performs provider calls for one DBaaS provider version.
type DatabaseActivationService interface {
	// Activate requests the database and returns a correlation handle for GetStatus.
	Activate(ctx context.Context, db *Database, actx ActivationContext) (string, error)
	GetStatus(ctx context.Context, correlation string) (*ProviderStatus, error)
	FetchDescription(ctx context.Context, databaseID string) (*DatabaseDescription, error)
	LaunchPopulationScript(ctx context.Context, db *Database) error
	Start(ctx context.Context, db *Database) error
	Stop(ctx context.Context, db *Database) error
	Delete(ctx context.Context, db *Database) error
}

// LifecycleHandler implements the lifecycle steps for one resource kind.
// Operations never return errors: every failure is reported as a
// FINISHED_FAILED TaskStatus.
type LifecycleHandler interface {
	// Kind returns the resource kind handled.
	Kind() ResourceKind

	Activate(ctx context.Context, id string, actx ActivationContext) *TaskStatus
	FirstStart(ctx context.Context, id string) *TaskStatus
	Start(ctx context.Context, id string) *TaskStatus
	Stop(ctx context.Context, id string) *TaskStatus
	Delete(ctx context.Context, id string) *TaskStatus

	// Poll refreshes a status previously returned by this handler.
	// A terminal status is returned unchanged.
	Poll(ctx context.Context, status *TaskStatus) *TaskStatus
}

// StepDispatcher routes a (kind, step) pair to the registered handler.
type StepDispatcher interface {
	Accepts(kind ResourceKind, step LifecycleStep) bool
	Dispatch(ctx context.Context, kind ResourceKind, step LifecycleStep, id string, actx ActivationContext) *TaskStatus
	Poll(ctx context.Context, status *TaskStatus) *TaskStatus
}

// TaskSink receives a snapshot of every tracked task transition.
type TaskSink interface {
	RecordTaskStatus(ctx context.Context, status *TaskStatus) error
}
