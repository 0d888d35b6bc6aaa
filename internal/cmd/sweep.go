package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Recover state left behind by dead sessions",
	Long: `Recover state left behind by dead or abandoned sessions: expire
session records whose process is gone, and release claims whose holder is
no longer live or whose claim exceeded the staleness threshold. The same
recovery runs opportunistically before reads, so an explicit sweep is
only needed to force it.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.sweeper.Sweep()
	if err != nil {
		return err
	}

	if res.Empty() {
		fmt.Println("Nothing to recover.")
		return nil
	}

	for _, tag := range res.ExpiredSessions {
		printStatus(statusWarn, "⚠", "expired dead session %s", tag)
	}
	for _, id := range res.ReclaimedTasks {
		printStatus(statusWarn, "⚠", "released stale claim on %s", id)
	}
	return nil
}
