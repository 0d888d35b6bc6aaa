package cmd

import (
	"github.com/spf13/cobra"
)

var claimCmd = &cobra.Command{
	Use:   "claim <task-id> [session-tag]",
	Short: "Claim an available task",
	Long: `Claim an available task for exclusive work by a session. The claim
fails if the task is already claimed, completed, or blocked by incomplete
dependencies. The session tag may be omitted when WORKQ_SESSION_TAG is
set.`,
	Args: usageArgs(cobra.RangeArgs(1, 2)),
	RunE: runClaim,
}

func init() {
	rootCmd.AddCommand(claimCmd)
}

func runClaim(cmd *cobra.Command, args []string) error {
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

	// Release anything orphaned first so recoverable tasks are claimable
	// in the same invocation.
	app.sweepQuietly()

	task, err := app.queue.Claim(args[0], tag)
	if err != nil {
		return err
	}

	// Claiming counts as activity.
	if err := app.registry.Heartbeat(tag); err != nil {
		app.logger.Warn("heartbeat after claim failed", "session_tag", tag, "error", err)
	}

	printStatus(statusGood, "✓", "claimed %s for %s: %s", task.ID, tag, task.Description)
	return nil
}
