package engine

import (
	"fmt"
	"strings"
	"time"
)

// Resource is the shape shared by every activatable resource kind.
type Resource interface {
	// Meta returns the identity and activation state shared by all kinds.
	Meta() *ResourceMeta
}

// ResourceMeta holds the attributes shared by all resource kinds.
type ResourceMeta struct {
	// ID is assigned by the repository at creation and never changes.
	ID string `json:"id"`

	// Kind tags the concrete resource type.
	Kind ResourceKind `json:"kind"`

	// Name is the identifying attribute used in titles, unless the kind overrides it.
	Name string `json:"name"`

	// EnvironmentID is the environment owning the resource.
	EnvironmentID string `json:"environment_id,omitempty"`

	// ActivationState is the provider-side state of the resource.
	ActivationState ActivationState `json:"activation_state"`

	// CreatedAt is when the resource was first persisted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the resource was last saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// Meta implements Resource.
func (m *ResourceMeta) Meta() *ResourceMeta { return m }

// IsActivated reports whether the provider created the resource.
func (m *ResourceMeta) IsActivated() bool { return m.ActivationState.IsActivated() }

// ResourceRef points at a resource by kind and identifier.
type ResourceRef struct {
	Kind ResourceKind `json:"kind" yaml:"kind"`
	ID   string       `json:"id" yaml:"id"`
}

// ArtifactRef is a package coordinate resolved into a download URL by an ArtifactResolver.
type ArtifactRef struct {
	GroupID    string `json:"group_id" yaml:"group_id"`
	ArtifactID string `json:"artifact_id" yaml:"artifact_id"`
	Version    string `json:"version" yaml:"version"`
	Classifier string `json:"classifier,omitempty" yaml:"classifier,omitempty"`
	Extension  string `json:"extension,omitempty" yaml:"extension,omitempty"`
}

// String renders the coordinate as group:artifact:extension[:classifier]:version.
func (a ArtifactRef) String() string {
	ext := a.Extension
	if ext == "" {
		ext = "jar"
	}
	parts := []string{a.GroupID, a.ArtifactID, ext}
	if a.Classifier != "" {
		parts = append(parts, a.Classifier)
	}
	parts = append(parts, a.Version)
	return strings.Join(parts, ":")
}

// Application is a deployable application running in a space.
type Application struct {
	ResourceMeta

	SpaceID       string            `json:"space_id"`
	Artifact      ArtifactRef       `json:"artifact"`
	BinaryURL     string            `json:"binary_url,omitempty"`
	Instances     int               `json:"instances"`
	MemoryMB      int               `json:"memory_mb"`
	Env           map[string]string `json:"env,omitempty"`
	BoundServices []string          `json:"bound_services,omitempty"`
	ProviderAppID string            `json:"provider_app_id,omitempty"`
}

// Route binds a public URI to an application.
type Route struct {
	ResourceMeta

	Host        string `json:"host"`
	Domain      string `json:"domain"`
	ContextPath string `json:"context_path,omitempty"`
	AppID       string `json:"app_id"`
	SpaceID     string `json:"space_id"`
}

// URI returns host.domain[/context].
func (r *Route) URI() string {
	uri := r.Host + "." + r.Domain
	if r.ContextPath != "" {
		uri += "/" + strings.TrimPrefix(r.ContextPath, "/")
	}
	return uri
}

// Space is a network space inside an organization.
type Space struct {
	ResourceMeta

	OrganizationID string `json:"organization_id,omitempty"`
}

// Organization groups spaces under one tenant.
type Organization struct {
	ResourceMeta
}

// ManagedService is a marketplace service instance.
type ManagedService struct {
	ResourceMeta

	Offering           string `json:"offering"`
	Plan               string `json:"plan"`
	SpaceID            string `json:"space_id"`
	ProviderInstanceID string `json:"provider_instance_id,omitempty"`
}

// UserProvidedService exposes externally managed credentials to applications.
type UserProvidedService struct {
	ResourceMeta

	SpaceID        string            `json:"space_id"`
	Credentials    map[string]string `json:"credentials,omitempty"`
	SyslogDrainURL string            `json:"syslog_drain_url,omitempty"`
}

// Database is an on-demand database provisioned by a DBaaS provider.
type Database struct {
	ResourceMeta

	// Version selects the DBaaS activation service implementation.
	Version             string `json:"version"`
	Engine              string `json:"engine"`
	SizeMB              int    `json:"size_mb"`
	PopulationScriptURL string `json:"population_script_url,omitempty"`
	ProviderDatabaseID  string `json:"provider_database_id,omitempty"`
	AccessURL           string `json:"access_url,omitempty"`
	Username            string `json:"username,omitempty"`
}

// TechnicalDeployment is the top-level resource grouping everything an environment needs.
type TechnicalDeployment struct {
	ResourceMeta

	// Resources are listed in activation order.
	Resources []ResourceRef `json:"resources"`
}

// NewResource returns an empty resource of the given kind, used when decoding stored payloads.
func NewResource(kind ResourceKind) (Resource, error) {
	var r Resource
	switch kind {
	case KindApp:
		r = &Application{}
	case KindRoute:
		r = &Route{}
	case KindSpace:
		r = &Space{}
	case KindOrganization:
		r = &Organization{}
	case KindManagedService:
		r = &ManagedService{}
	case KindUserProvidedService:
		r = &UserProvidedService{}
	case KindDatabase:
		r = &Database{}
	case KindTechnicalDeployment:
		r = &TechnicalDeployment{}
	default:
		return nil, fmt.Errorf("invalid resource kind: %s", kind)
	}
	r.Meta().Kind = kind
	return r, nil
}

// EnvironmentType is the purpose of an environment.
type EnvironmentType string

const (
	EnvironmentDevelopment EnvironmentType = "DEVELOPMENT"
	EnvironmentTest        EnvironmentType = "TEST"
	EnvironmentLoadTest    EnvironmentType = "LOAD_TEST"
	EnvironmentPreProd     EnvironmentType = "PRE_PROD"
	EnvironmentProduction  EnvironmentType = "PRODUCTION"
)

// Validate checks if the environment type is known.
func (t EnvironmentType) Validate() error {
	switch t {
	case EnvironmentDevelopment, EnvironmentTest, EnvironmentLoadTest,
		EnvironmentPreProd, EnvironmentProduction:
		return nil
	default:
		return fmt.Errorf("invalid environment type: %s", t)
	}
}

// Environment is the full set of provisioned resources backing one deployed release instance.
type Environment struct {
	ID                    string           `json:"id"`
	ReleaseID             string           `json:"release_id"`
	Type                  EnvironmentType  `json:"type"`
	OwnerID               string           `json:"owner_id"`
	Label                 string           `json:"label"`
	State                 EnvironmentState `json:"state"`
	TechnicalDeploymentID string           `json:"technical_deployment_id"`

	// TaskID is the tracked task of the last operation on the environment.
	TaskID       string    `json:"task_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ActivationContext describes the target environment for activate calls.
// Handlers pass it through to activation services without interpreting it.
type ActivationContext struct {
	EnvironmentID   string            `json:"environment_id"`
	EnvironmentType EnvironmentType   `json:"environment_type"`
	ReleaseID       string            `json:"release_id"`
	Label           string            `json:"label"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}
