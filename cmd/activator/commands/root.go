package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "activator",
		Short: "Activator - PaaS environment activation engine",
		Long: `Activator turns releases into running environments on a PaaS.

An environment is created from a release and driven through its lifecycle:
  - activate and first start on creation
  - start, stop and delete afterwards
  - one live environment per release
  - policy admission before every operation
  - every operation tracked as a task`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ./activator.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newReleaseCommand())
	rootCmd.AddCommand(newEnvCommand())
	rootCmd.AddCommand(newTaskCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
