package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/orchestrator"
	"github.com/openfroyo/activator/pkg/plugins"
	"github.com/openfroyo/activator/pkg/stores"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// DefaultFileName is the configuration file created by `activator init`.
const DefaultFileName = "activator.yaml"

// Config is the complete activator configuration.
type Config struct {
	// DataDir holds the database and anything else the activator writes.
	DataDir string `yaml:"data_dir" validate:"required"`

	// ArtifactRepository is the Maven repository application binaries resolve against.
	ArtifactRepository string `yaml:"artifact_repository" validate:"required,url"`

	Database     stores.Config      `yaml:"database"`
	Tracker      TrackerConfig      `yaml:"tracker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	DBaaS        DBaaSConfig        `yaml:"dbaas"`
	Releases     ReleasesConfig     `yaml:"releases"`
	Policies     PoliciesConfig     `yaml:"policies"`
	Telemetry    telemetry.Config   `yaml:"telemetry"`
}

// TrackerConfig configures the async task tracker.
type TrackerConfig struct {
	Workers   int           `yaml:"workers" validate:"gte=1"`
	QueueSize int           `yaml:"queue_size" validate:"gte=1"`
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// OrchestratorConfig configures the environment drivers.
type OrchestratorConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" validate:"gt=0"`
	MaxPollInterval  time.Duration `yaml:"max_poll_interval" validate:"gtefield=PollInterval"`
	OperationTimeout time.Duration `yaml:"operation_timeout" validate:"gt=0"`
}

// DBaaSConfig configures the on-demand database versions.
type DBaaSConfig struct {
	// Versions lists the enabled DBaaS versions.
	Versions []string `yaml:"versions" validate:"required,min=1,unique,dive,oneof=v1 v2"`

	// V2Polls is how many status polls a v2 activation takes to complete.
	V2Polls int `yaml:"v2_polls" validate:"gte=0"`

	ActivateTimeout time.Duration `yaml:"activate_timeout" validate:"gt=0"`
	PopulateTimeout time.Duration `yaml:"populate_timeout" validate:"gt=0"`

	// Domain hosts the access URLs of provisioned databases.
	Domain string `yaml:"domain" validate:"required,hostname_rfc1123"`

	// Latency is added to every simulated provider call.
	Latency time.Duration `yaml:"latency" validate:"gte=0"`
}

// ReleasesConfig locates the release catalog.
type ReleasesConfig struct {
	Dir      string        `yaml:"dir" validate:"required"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// PoliciesConfig lists admission policies loaded next to the built-ins.
// Enable and Disable switch policies by name, built-in or loaded; a name in
// both ends up disabled.
type PoliciesConfig struct {
	Paths   []string `yaml:"paths"`
	Watch   bool     `yaml:"watch"`
	Enable  []string `yaml:"enable"`
	Disable []string `yaml:"disable"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		DataDir:            ".activator",
		ArtifactRepository: "https://repo.example.com/maven",
		Database: stores.Config{
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Tracker: TrackerConfig{
			Workers:   4,
			QueueSize: 64,
			Retention: time.Hour,
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:     2 * time.Second,
			MaxPollInterval:  30 * time.Second,
			OperationTimeout: 30 * time.Minute,
		},
		DBaaS: DBaaSConfig{
			Versions:        []string{"v1", "v2"},
			V2Polls:         3,
			ActivateTimeout: 15 * time.Minute,
			PopulateTimeout: 30 * time.Minute,
			Domain:          "dbaas.local",
		},
		Releases: ReleasesConfig{
			Dir:      "releases",
			Debounce: 250 * time.Millisecond,
		},
		Telemetry: *tel,
	}
}

// Load decodes a YAML document over the defaults, applies environment
// overrides and validates the result.
func Load(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads the configuration at path. A missing file yields the
// defaults with environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	cfg, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create configuration directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}

// Validate checks field constraints and the telemetry section.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// resolve fills paths derived from DataDir.
func (c *Config) resolve() {
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "activator.db")
	}
}

// applyEnv overrides settings from ACTIVATOR_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("ACTIVATOR_DATA_DIR", &c.DataDir)
	str("ACTIVATOR_DATABASE_PATH", &c.Database.Path)
	num("ACTIVATOR_TRACKER_WORKERS", &c.Tracker.Workers)
	dur("ACTIVATOR_POLL_INTERVAL", &c.Orchestrator.PollInterval)
	dur("ACTIVATOR_OPERATION_TIMEOUT", &c.Orchestrator.OperationTimeout)
	list("ACTIVATOR_DBAAS_VERSIONS", &c.DBaaS.Versions)
	str("ACTIVATOR_RELEASES_DIR", &c.Releases.Dir)
	list("ACTIVATOR_POLICY_PATHS", &c.Policies.Paths)
	list("ACTIVATOR_POLICY_DISABLE", &c.Policies.Disable)
	str("ACTIVATOR_LOG_LEVEL", &c.Telemetry.Logging.Level)
	str("ACTIVATOR_METRICS_ADDRESS", &c.Telemetry.Metrics.ListenAddress)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// TrackerOptions returns the tracker configuration. Sink, metrics and
// events are wired by the caller.
func (c *Config) TrackerOptions() engine.TrackerConfig {
	return engine.TrackerConfig{
		Workers:   c.Tracker.Workers,
		QueueSize: c.Tracker.QueueSize,
		Retention: c.Tracker.Retention,
	}
}

// OrchestratorOptions returns the driver configuration.
func (c *Config) OrchestratorOptions() orchestrator.Config {
	return orchestrator.Config{
		PollInterval:     c.Orchestrator.PollInterval,
		MaxPollInterval:  c.Orchestrator.MaxPollInterval,
		OperationTimeout: c.Orchestrator.OperationTimeout,
	}
}

// DatabaseOptions returns the DBaaS handler options.
func (c *Config) DatabaseOptions() plugins.DatabaseOptions {
	return plugins.DatabaseOptions{
		ActivateTimeout: c.DBaaS.ActivateTimeout,
		PopulateTimeout: c.DBaaS.PopulateTimeout,
	}
}
