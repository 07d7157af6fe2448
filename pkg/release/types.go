package release

import (
	"github.com/openfroyo/activator/pkg/engine"
)

// Release is a versioned description of everything an environment needs.
type Release struct {
	// ID identifies the release across the catalog.
	ID string `yaml:"id" validate:"required,release_id"`

	// Name is the application family the release belongs to.
	Name string `yaml:"name" validate:"required"`

	// Version is the release version.
	Version string `yaml:"version" validate:"required"`

	// Description is optional free text.
	Description string `yaml:"description,omitempty"`

	// Resources lists the resources in declared order.
	Resources []ResourceSpec `yaml:"resources" validate:"required,min=1,dive"`

	// Overrides adjusts application sizing per environment type.
	Overrides map[engine.EnvironmentType]Sizing `yaml:"overrides,omitempty" validate:"dive"`

	// Path is the file the release was loaded from.
	Path string `yaml:"-"`
}

// ResourceSpec declares one resource of a release. Exactly the section
// matching Kind is read.
type ResourceSpec struct {
	Name      string              `yaml:"name" validate:"required,resource_name"`
	Kind      engine.ResourceKind `yaml:"kind" validate:"required,oneof=app route space organization managed-service user-provided-service database"`
	DependsOn []string            `yaml:"depends_on,omitempty"`

	App                 *AppSpec                 `yaml:"app,omitempty" validate:"required_if=Kind app,omitempty"`
	Route               *RouteSpec               `yaml:"route,omitempty" validate:"required_if=Kind route,omitempty"`
	Space               *SpaceSpec               `yaml:"space,omitempty"`
	ManagedService      *ManagedServiceSpec      `yaml:"managed_service,omitempty" validate:"required_if=Kind managed-service,omitempty"`
	UserProvidedService *UserProvidedServiceSpec `yaml:"user_provided_service,omitempty"`
	Database            *DatabaseSpec            `yaml:"database,omitempty" validate:"required_if=Kind database,omitempty"`
}

// AppSpec configures an application.
type AppSpec struct {
	Artifact engine.ArtifactRef `yaml:"artifact"`
	Space    string             `yaml:"space,omitempty"`
	Bind     []string           `yaml:"bind,omitempty"`
	Env      map[string]string  `yaml:"env,omitempty"`
	Sizing   `yaml:",inline"`
}

// Sizing is the application footprint.
type Sizing struct {
	Instances int `yaml:"instances,omitempty" validate:"omitempty,min=1,max=100"`
	MemoryMB  int `yaml:"memory_mb,omitempty" validate:"omitempty,min=64"`
}

// RouteSpec configures a route. App names the application the route serves.
type RouteSpec struct {
	Host        string `yaml:"host" validate:"required,hostname_rfc1123"`
	Domain      string `yaml:"domain" validate:"required,fqdn"`
	ContextPath string `yaml:"context_path,omitempty"`
	App         string `yaml:"app" validate:"required"`
	Space       string `yaml:"space,omitempty"`
}

// SpaceSpec configures a space.
type SpaceSpec struct {
	Organization string `yaml:"organization,omitempty"`
}

// ManagedServiceSpec configures a marketplace service.
type ManagedServiceSpec struct {
	Offering string `yaml:"offering" validate:"required"`
	Plan     string `yaml:"plan" validate:"required"`
	Space    string `yaml:"space,omitempty"`
}

// UserProvidedServiceSpec configures a user-provided service.
type UserProvidedServiceSpec struct {
	Credentials    map[string]string `yaml:"credentials,omitempty"`
	SyslogDrainURL string            `yaml:"syslog_drain_url,omitempty" validate:"omitempty,url"`
	Space          string            `yaml:"space,omitempty"`
}

// DatabaseSpec configures an on-demand database.
type DatabaseSpec struct {
	Version             string `yaml:"version" validate:"required"`
	Engine              string `yaml:"engine,omitempty"`
	SizeMB              int    `yaml:"size_mb,omitempty" validate:"omitempty,min=1"`
	PopulationScriptURL string `yaml:"population_script_url,omitempty" validate:"omitempty,url"`
}
