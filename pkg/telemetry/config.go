package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config is the telemetry section of the activator configuration.
type Config struct {
	// ServiceName, ServiceVersion and Environment identify this process in
	// traces and logs.
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
}

// LoggingConfig configures the zerolog logger. Format is console or json,
// Output is stdout, stderr or a file path and TimeFormat is unix, unixms or
// rfc3339.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
}

// TracingConfig configures span export. Exporter is otlp, stdout or none.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`

	MaxExportBatchSize int               `yaml:"max_export_batch_size"`
	ExportTimeout      time.Duration     `yaml:"export_timeout"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"default_histogram_buckets"`
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled     bool `yaml:"enabled"`
	BufferSize  int  `yaml:"buffer_size"`
	EnableAsync bool `yaml:"enable_async"`

	// MinLevel drops events below info, warning or error.
	MinLevel string `yaml:"min_level,omitempty"`
}

var (
	logLevels     = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats    = []string{"console", "json"}
	exporterNames = []string{"otlp", "stdout", "none"}
	eventLevels   = []string{"", EventLevelInfo, EventLevelWarning, EventLevelError}
)

// DefaultConfig returns the telemetry used by a fresh workspace.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "activator",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            map[string]string{},
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "activator",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  1000,
			EnableAsync: true,
		},
	}
}

// ProductionConfig returns DefaultConfig with JSON logs and sampled OTLP
// export.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ServiceName != "", "service name is required")
	check(slices.Contains(logLevels, c.Logging.Level), "invalid log level: %s", c.Logging.Level)
	check(slices.Contains(logFormats, c.Logging.Format), "invalid log format: %s", c.Logging.Format)
	check(!c.Tracing.Enabled || slices.Contains(exporterNames, c.Tracing.Exporter), "invalid trace exporter: %s", c.Tracing.Exporter)
	check(c.Tracing.SamplingRate >= 0 && c.Tracing.SamplingRate <= 1,
		"trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	check(!c.Metrics.Enabled || c.Metrics.ListenAddress != "", "metrics listen address is required when metrics are enabled")
	check(!c.Events.Enabled || c.Events.BufferSize > 0, "event buffer size must be positive, got: %d", c.Events.BufferSize)
	check(slices.Contains(eventLevels, c.Events.MinLevel), "invalid event level: %s", c.Events.MinLevel)

	return errors.Join(errs...)
}
