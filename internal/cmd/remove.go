package cmd

import (
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <task-id>",
	Short: "Remove a task from the queue",
	Long: `Remove a task from the queue regardless of its status. Tasks that
depend on the removed task stay blocked until the dependency reference is
removed from them.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runRemove,
}

var unclaimCmd = &cobra.Command{
	Use:   "unclaim <task-id>",
	Short: "Force-release a claimed task",
	Long: `Force-release a claimed task back to available, recording an audit
note on the task. Any session may do this; it is the manual escape hatch
for claims held by stuck sessions.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runUnclaim,
}

var unclaimNote string

func init() {
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(unclaimCmd)

	unclaimCmd.Flags().StringVar(&unclaimNote, "note", "released manually", "audit note recorded on the task")
}

func runRemove(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.queue.Remove(args[0]); err != nil {
		return err
	}

	printStatus(statusGood, "✓", "removed task %s", args[0])
	return nil
}

func runUnclaim(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	task, err := app.queue.ForceUnclaim(args[0], unclaimNote)
	if err != nil {
		return err
	}

	printStatus(statusWarn, "⚠", "released %s back to available", task.ID)
	return nil
}
