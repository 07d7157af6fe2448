package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/activator/pkg/activation/simulated"
	"github.com/openfroyo/activator/pkg/config"
	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/orchestrator"
	"github.com/openfroyo/activator/pkg/plugins"
	"github.com/openfroyo/activator/pkg/policy"
	"github.com/openfroyo/activator/pkg/release"
	"github.com/openfroyo/activator/pkg/stores"
	"github.com/openfroyo/activator/pkg/telemetry"
)

// app is the fully wired activator of one command invocation.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	tracker  *engine.Tracker
	catalog  *release.Catalog
	policies *policy.Engine
	platform *simulated.Platform
	orch     *orchestrator.Orchestrator
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultFileName
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(resolvedConfigPath())
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// configurePolicies loads the configured policy paths and applies the
// enable and disable lists, disable last.
func configurePolicies(ctx context.Context, policies *policy.Engine, cfg config.PoliciesConfig) error {
	if len(cfg.Paths) > 0 {
		if err := policies.LoadPolicies(ctx, cfg.Paths); err != nil {
			return err
		}
	}
	for _, name := range cfg.Enable {
		if err := policies.EnablePolicy(name); err != nil {
			return fmt.Errorf("failed to enable policy: %w", err)
		}
	}
	for _, name := range cfg.Disable {
		if err := policies.DisablePolicy(name); err != nil {
			return fmt.Errorf("failed to disable policy: %w", err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}
	store, err := stores.NewSQLiteStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// openApp wires configuration, telemetry, storage, handlers and the
// orchestrator. The returned context carries the telemetry.
func openApp(ctx context.Context) (*app, context.Context, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, ctx, err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, ctx, err
	}
	store.RecordEvents(ctx, tel.Events)

	catalog := release.NewCatalog(cfg.Releases.Dir)
	if err := catalog.Load(ctx); err != nil {
		_ = store.Close()
		return nil, ctx, fmt.Errorf("failed to load releases: %w", err)
	}

	policies, err := policy.NewEngine(*tel.Logger.Zerolog())
	if err != nil {
		_ = store.Close()
		return nil, ctx, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if err := configurePolicies(ctx, policies, cfg.Policies); err != nil {
		_ = store.Close()
		return nil, ctx, err
	}

	trackerCfg := cfg.TrackerOptions()
	trackerCfg.Sink = store
	trackerCfg.Metrics = tel.Metrics
	trackerCfg.Events = tel.Events
	tracker := engine.NewTracker(trackerCfg)

	platform := simulated.NewPlatform(simulated.Options{Latency: cfg.DBaaS.Latency, Domain: cfg.DBaaS.Domain})
	databases := make(map[string]engine.DatabaseActivationService, len(cfg.DBaaS.Versions))
	available := platform.DatabaseVersions(cfg.DBaaS.V2Polls)
	for _, version := range cfg.DBaaS.Versions {
		databases[version] = available[version]
	}

	dispatcher, err := plugins.NewStandardDispatcher(
		plugins.Common{Repository: store, Tracker: tracker, Events: tel.Events},
		plugins.Services{
			Apps:                 platform.Apps(),
			Resolver:             simulated.NewResolver(cfg.ArtifactRepository),
			Routes:               platform.Routes(),
			Spaces:               platform.Spaces(),
			Organizations:        platform.Organizations(),
			ManagedServices:      platform.ManagedServices(),
			UserProvidedServices: platform.UserProvidedServices(),
			Databases:            databases,
			DatabaseOptions:      cfg.DatabaseOptions(),
		},
	)
	if err != nil {
		_ = store.Close()
		return nil, ctx, err
	}

	orch, err := orchestrator.New(cfg.OrchestratorOptions(), orchestrator.Deps{
		Store:      store,
		Projector:  release.NewProjector(catalog),
		Dispatcher: dispatcher,
		Tracker:    tracker,
		Admission:  policies,
		Events:     tel.Events,
	})
	if err != nil {
		_ = store.Close()
		return nil, ctx, err
	}

	return &app{
		cfg:      cfg,
		tel:      tel,
		store:    store,
		tracker:  tracker,
		catalog:  catalog,
		policies: policies,
		platform: platform,
		orch:     orch,
	}, ctx, nil
}

// close stops the drivers, drains the tracker and releases the store.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	errs = append(errs, a.orch.Close(ctx))
	errs = append(errs, a.tracker.Close(ctx))
	errs = append(errs, a.tel.Shutdown(ctx))
	errs = append(errs, a.store.Close())
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Shutdown was not clean")
	}
}

// awaitTask polls the task until it settles or timeout expires.
func (a *app) awaitTask(ctx context.Context, taskID string, timeout time.Duration) (*engine.TaskStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	lastPercent := engine.PercentUnknown
	for {
		status, err := a.orch.PollTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if status.IsTerminal() {
			return status, nil
		}
		if !jsonOutput && status.PercentComplete != lastPercent && status.PercentComplete >= 0 {
			lastPercent = status.PercentComplete
			fmt.Printf("  %3d%% %s\n", status.PercentComplete, status.Title)
		}

		select {
		case <-ctx.Done():
			return status, fmt.Errorf("task %s still %s: %w", taskID, status.State, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTask(status *engine.TaskStatus, indent string) {
	line := fmt.Sprintf("%s%-15s %s", indent, status.State, status.Title)
	if status.ErrorMessage != "" {
		line += ": " + status.ErrorMessage
	}
	fmt.Println(line)
	for _, sub := range status.Subtasks {
		printTask(sub, indent+"  ")
	}
}
