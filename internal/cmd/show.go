package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a single task",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	task, err := app.queue.Get(args[0])
	if err != nil {
		return err
	}

	printTask(task)
	if task.ClaimedAt != nil {
		fmt.Printf("    Claimed at:   %s\n", task.ClaimedAt.Format(time.RFC822))
	}
	if task.CompletedAt != nil {
		fmt.Printf("    Completed at: %s\n", task.CompletedAt.Format(time.RFC822))
	}
	return nil
}
