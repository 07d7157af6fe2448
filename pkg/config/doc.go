// Package config loads the activator configuration.
//
// # Overview
//
// The configuration is a single YAML document. Every section has defaults,
// so an empty file is valid. After decoding, ACTIVATOR_* environment
// variables override individual settings and the result is validated
// with struct tags.
//
// # Sections
//
//   - data_dir: directory holding the database and generated files
//   - database: SQLite path and connection pool
//   - tracker: worker pool size, queue bound and status retention
//   - orchestrator: poll interval, poll backoff cap and step timeout
//   - dbaas: enabled DBaaS versions and the polls v2 needs to complete
//   - releases: release catalog directory and whether to watch it
//   - policies: extra policy files and directories, whether to watch them, and
//     policies to enable or disable by name
//   - telemetry: logging, tracing, metrics and events
//
// # Environment overrides
//
//	ACTIVATOR_DATA_DIR            data_dir
//	ACTIVATOR_DATABASE_PATH       database.path
//	ACTIVATOR_TRACKER_WORKERS     tracker.workers
//	ACTIVATOR_POLL_INTERVAL       orchestrator.poll_interval
//	ACTIVATOR_OPERATION_TIMEOUT   orchestrator.operation_timeout
//	ACTIVATOR_DBAAS_VERSIONS      dbaas.versions (comma separated)
//	ACTIVATOR_RELEASES_DIR        releases.dir
//	ACTIVATOR_POLICY_PATHS        policies.paths (comma separated)
//	ACTIVATOR_POLICY_DISABLE      policies.disable (comma separated)
//	ACTIVATOR_LOG_LEVEL           telemetry.logging.level
//	ACTIVATOR_METRICS_ADDRESS     telemetry.metrics.listen_address
//
// # Usage Example
//
//	cfg, err := config.LoadFile("activator.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Reload on change
//	err = config.Watch(ctx, "activator.yaml", func(cfg *config.Config, err error) {
//	    ...
//	})
package config
