package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/release"
)

func newReleaseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Inspect the release catalog",
	}
	cmd.AddCommand(newReleaseListCommand(), newReleaseGraphCommand())
	return cmd
}

func loadCatalog(cmd *cobra.Command) (*release.Catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	catalog := release.NewCatalog(cfg.Releases.Dir)
	if err := catalog.Load(cmd.Context()); err != nil {
		return nil, err
	}
	return catalog, nil
}

func newReleaseListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog releases",
		Long:  `List every release found in the configured catalog directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cmd)
			if err != nil {
				return err
			}

			releases := catalog.List()
			if jsonOutput {
				return printJSON(releases)
			}
			if len(releases) == 0 {
				fmt.Println("No releases in the catalog")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tRESOURCES\tDESCRIPTION")
			for _, rel := range releases {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", rel.ID, rel.Name, rel.Version, len(rel.Resources), rel.Description)
			}
			return w.Flush()
		},
	}
}

func newReleaseGraphCommand() *cobra.Command {
	var envType string

	cmd := &cobra.Command{
		Use:     "graph RELEASE_ID",
		Short:   "Print the activation graph of a release in DOT format",
		Example: `  activator release graph hello-1.0 | dot -Tpng -o hello.png`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			dot, err := release.NewProjector(catalog).Graph(args[0], engine.EnvironmentType(strings.ToUpper(envType)))
			if err != nil {
				return err
			}
			fmt.Print(dot)
			return nil
		},
	}

	cmd.Flags().StringVar(&envType, "type", string(engine.EnvironmentDevelopment), "environment type the graph is projected for")
	return cmd
}
