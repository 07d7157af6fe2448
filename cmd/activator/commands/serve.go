package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/activator/pkg/config"
)

func newServeCommand() *cobra.Command {
	var housekeeping time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the activator as a long-lived process",
		Long: `Run the activator until interrupted. The process exposes metrics,
reloads releases and policies when configured to watch them, sweeps
settled tasks and refreshes the environment gauges periodically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			logger := a.tel.Logger.NewComponentLogger("serve")

			if err := a.tel.StartMetricsServer(ctx); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}

			if a.cfg.Releases.Watch {
				err := a.catalog.Watch(ctx, a.cfg.Releases.Debounce, func(err error) {
					if err != nil {
						logger.WithError(err).Warn("Release catalog reload failed")
						return
					}
					logger.Infof("Release catalog reloaded (%d releases)", len(a.catalog.List()))
				})
				if err != nil {
					return err
				}
			}

			if a.cfg.Policies.Watch && len(a.cfg.Policies.Paths) > 0 {
				if err := a.policies.Watch(ctx, a.cfg.Policies.Paths); err != nil {
					return err
				}
			}

			go func() {
				err := config.Watch(ctx, resolvedConfigPath(), func(cfg *config.Config, err error) {
					if err != nil {
						logger.WithError(err).Warn("Configuration change rejected")
						return
					}
					logger.Info("Configuration changed on disk; restart to apply it")
				})
				if err != nil {
					logger.WithError(err).Debug("Configuration watch stopped")
				}
			}()

			logger.Infof("Activator serving with %d releases", len(a.catalog.List()))

			ticker := time.NewTicker(housekeeping)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					logger.Info("Shutting down")
					return nil
				case <-ticker.C:
					if removed := a.tracker.Sweep(); removed > 0 {
						logger.Debugf("Swept %d settled tasks", removed)
					}
					if err := a.orch.RefreshMetrics(ctx); err != nil {
						logger.WithError(err).Warn("Failed to refresh environment metrics")
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&housekeeping, "housekeeping", 30*time.Second, "interval between task sweeps and metric refreshes")
	return cmd
}
