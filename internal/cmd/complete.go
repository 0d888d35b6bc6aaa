package cmd

import (
	"github.com/spf13/cobra"
)

var completeCmd = &cobra.Command{
	Use:   "complete <task-id> [session-tag]",
	Short: "Mark a claimed task as completed",
	Long: `Mark a claimed task as completed. Only the session that holds the
claim may complete it. The session tag may be omitted when
WORKQ_SESSION_TAG is set.`,
	Args: usageArgs(cobra.RangeArgs(1, 2)),
	RunE: runComplete,
}

func init() {
	rootCmd.AddCommand(completeCmd)
}

func runComplete(cmd *cobra.Command, args []string) error {
	explicit := ""
	if len(args) > 1 {
		explicit = args[1]
	}
	tag, err := sessionTag(explicit)
	if err != nil {
		return err
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	task, err := app.queue.Complete(args[0], tag)
	if err != nil {
		return err
	}

	if err := app.registry.Heartbeat(tag); err != nil {
		app.logger.Warn("heartbeat after complete failed", "session_tag", tag, "error", err)
	}

	printStatus(statusGood, "✓", "completed %s: %s", task.ID, task.Description)
	return nil
}
