package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/activator/pkg/engine"
	"github.com/openfroyo/activator/pkg/orchestrator"
	"github.com/openfroyo/activator/pkg/stores"
)

func newEnvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "env",
		Aliases: []string{"environment"},
		Short:   "Manage environments",
		Long: `Create environments from catalog releases and drive them through
their lifecycle. Every operation is tracked as a task; the command waits
for the task to settle before returning.`,
	}
	cmd.AddCommand(
		newEnvCreateCommand(),
		newEnvLifecycleCommand("start", "Start a stopped environment", false),
		newEnvLifecycleCommand("stop", "Stop a running environment", false),
		newEnvLifecycleCommand("delete", "Delete an environment and its resources", true),
		newEnvShowCommand(),
		newEnvListCommand(),
		newEnvEventsCommand(),
	)
	return cmd
}

func newEnvCreateCommand() *cobra.Command {
	var (
		req     orchestrator.CreateRequest
		envType string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an environment from a release",
		Long: `Create an environment from a release and bring it up.

Only one live environment exists per release. When one already exists it
is returned instead of creating another.`,
		Example: `  activator env create --release hello-1.0 --type DEVELOPMENT --owner alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			req.Type = engine.EnvironmentType(strings.ToUpper(envType))
			op, err := a.orch.CreateEnvironment(ctx, req)
			if err != nil {
				return err
			}
			if op.Existing && !jsonOutput {
				fmt.Printf("Release %s already has environment %s (%s)\n", req.ReleaseID, op.Environment.ID, op.Environment.State)
			}
			return a.report(ctx, op, timeout)
		},
	}

	cmd.Flags().StringVar(&req.ReleaseID, "release", "", "release to create the environment from")
	cmd.Flags().StringVar(&envType, "type", string(engine.EnvironmentDevelopment), "environment type (DEVELOPMENT, TEST, LOAD_TEST, PRE_PROD, PRODUCTION)")
	cmd.Flags().StringVar(&req.OwnerID, "owner", os.Getenv("USER"), "owner of the environment")
	cmd.Flags().StringVar(&req.Label, "label", "", "human-readable label (defaults to the release ID)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "how long to wait for the environment")
	_ = cmd.MarkFlagRequired("release")
	return cmd
}

func newEnvLifecycleCommand(verb, short string, withForce bool) *cobra.Command {
	var (
		opts    orchestrator.OperationOptions
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   verb + " ENV_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			var op *orchestrator.Operation
			switch verb {
			case "start":
				op, err = a.orch.StartEnvironment(ctx, args[0], opts)
			case "stop":
				op, err = a.orch.StopEnvironment(ctx, args[0], opts)
			default:
				op, err = a.orch.DeleteEnvironment(ctx, args[0], opts)
			}
			if err != nil {
				return err
			}
			return a.report(ctx, op, timeout)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", os.Getenv("USER"), "who requests the operation")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "how long to wait for the operation")
	if withForce {
		cmd.Flags().BoolVar(&opts.Force, "force", false, "override protection policies")
	}
	return cmd
}

// report waits for the task of op and prints the outcome.
func (a *app) report(ctx context.Context, op *orchestrator.Operation, timeout time.Duration) error {
	status := op.Task
	if status != nil && !status.IsTerminal() {
		var err error
		if status, err = a.awaitTask(ctx, status.TaskID, timeout); err != nil {
			return err
		}
	}

	report, err := a.orch.EnvironmentStatus(ctx, op.Environment.ID)
	if err != nil {
		return err
	}
	if status != nil {
		report.Task = status
	}
	if jsonOutput {
		return printJSON(report)
	}
	printReport(report)
	if status != nil && status.Failed() {
		return fmt.Errorf("environment %s: %s", report.Environment.ID, status.ErrorMessage)
	}
	return nil
}

func newEnvShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ENV_ID",
		Short: "Show an environment, its last task and its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.orch.EnvironmentStatus(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(report)
			}
			printReport(report)
			return nil
		},
	}
}

func newEnvListCommand() *cobra.Command {
	var (
		filter stores.EnvironmentFilter
		state  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			filter.State = engine.EnvironmentState(strings.ToUpper(state))
			envs, err := a.orch.ListEnvironments(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(envs)
			}
			if len(envs) == 0 {
				fmt.Println("No environments")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRELEASE\tTYPE\tOWNER\tLABEL\tSTATE\tUPDATED")
			for _, env := range envs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					env.ID, env.ReleaseID, env.Type, env.OwnerID, env.Label, env.State,
					env.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&filter.OwnerID, "owner", "", "only environments of this owner")
	cmd.Flags().StringVar(&filter.ReleaseID, "release", "", "only environments of this release")
	cmd.Flags().StringVar(&state, "state", "", "only environments in this state")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of environments")
	return cmd
}

func newEnvEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events ENV_ID",
		Short: "Show the recorded events of an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			envID := args[0]
			events, err := a.store.GetEvents(ctx, stores.EventFilter{EnvironmentID: &envID, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(events)
			}
			for _, ev := range events {
				fmt.Printf("%s  %-7s %-28s %s\n", ev.Timestamp.Local().Format(time.DateTime), ev.Level, ev.Type, ev.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}

func printReport(report *orchestrator.StatusReport) {
	env := report.Environment
	fmt.Printf("Environment %s (%s)\n", env.Label, env.ID)
	fmt.Printf("  Release:  %s\n", env.ReleaseID)
	fmt.Printf("  Type:     %s\n", env.Type)
	fmt.Printf("  Owner:    %s\n", env.OwnerID)
	fmt.Printf("  State:    %s\n", env.State)
	if env.ErrorMessage != "" {
		fmt.Printf("  Error:    %s\n", env.ErrorMessage)
	}

	if report.Task != nil {
		fmt.Println("\nTask:")
		printTask(report.Task, "  ")
	}

	if len(report.Resources) > 0 {
		fmt.Println("\nResources:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, res := range report.Resources {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", res.Kind.DisplayName(), res.Name, res.State)
		}
		_ = w.Flush()
	}
}
