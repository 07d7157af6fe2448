package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/activator/pkg/config"
)

const sampleRelease = `id: hello-1.0
name: hello
version: 1.0.0
description: Sample release created by activator init
resources:
  - name: hello
    kind: app
    app:
      artifact:
        group_id: com.example
        artifact_id: hello
        version: 1.0.0
      bind: [hello-db]
      instances: 1
      memory_mb: 256
  - name: www
    kind: route
    route:
      host: hello
      domain: apps.example.com
      app: hello
  - name: hello-db
    kind: database
    database:
      version: v2
      engine: postgresql
      size_mb: 256
  - name: dev
    kind: space
  - name: example
    kind: organization
overrides:
  PRODUCTION:
    instances: 2
    memory_mb: 512
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an activator workspace",
		Long: `Initialize a workspace with a configuration file, a data directory
holding the SQLite database, and a release catalog with one sample release.`,
		Example: `  # Initialize in the current directory
  activator init

  # Initialize with a custom config path
  activator init --config /etc/activator/activator.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolvedConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			base := filepath.Dir(path)
			cfg.DataDir = filepath.Join(base, ".activator")
			cfg.Database.Path = filepath.Join(cfg.DataDir, "activator.db")
			cfg.Releases.Dir = filepath.Join(base, "releases")

			log.Info().
				Str("config", path).
				Str("data_dir", cfg.DataDir).
				Msg("Initializing workspace")

			if err := os.MkdirAll(cfg.Releases.Dir, 0o755); err != nil {
				return fmt.Errorf("failed to create release directory: %w", err)
			}
			fmt.Printf("✓ Created release catalog: %s\n", cfg.Releases.Dir)

			samplePath := filepath.Join(cfg.Releases.Dir, "hello.yaml")
			if _, err := os.Stat(samplePath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(samplePath, []byte(sampleRelease), 0o644); err != nil {
					return fmt.Errorf("failed to write sample release: %w", err)
				}
				fmt.Printf("✓ Created sample release: %s\n", samplePath)
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Printf("✓ Initialized SQLite database: %s\n", cfg.Database.Path)

			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Printf("✓ Created config file: %s\n", path)

			fmt.Println("\nWorkspace initialized. Next steps:")
			fmt.Println("  activator release list")
			fmt.Println("  activator env create --release hello-1.0 --type DEVELOPMENT --owner you --label hello-dev")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  `Apply every pending schema migration to the configured SQLite database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.HealthCheck(cmd.Context()); err != nil {
				return fmt.Errorf("database health check failed: %w", err)
			}
			fmt.Printf("✓ Database %s is up to date\n", cfg.Database.Path)
			return nil
		},
	}
}
