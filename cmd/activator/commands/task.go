package commands

import (
	"github.com/spf13/cobra"
)

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect tracked tasks",
	}
	cmd.AddCommand(newTaskShowCommand())
	return cmd
}

func newTaskShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.orch.PollTask(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(status)
			}
			printTask(status, "")
			return nil
		},
	}
}
