package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crowdwork/workq/internal/queue"
	"github.com/crowdwork/workq/internal/util"
)

var listCmd = &cobra.Command{
	Use:   "list [open|all|available|claimed|completed]",
	Short: "List tasks in the shared queue",
	Long: `List tasks in the shared queue, highest priority first. Without an
argument, completed tasks are hidden. Stale claims are swept before the
listing so the output reflects recoverable state.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	filterArg := ""
	if len(args) > 0 {
		filterArg = args[0]
	}
	filter, err := queue.ParseFilter(filterArg)
	if err != nil {
		return err
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	app.sweepQuietly()

	tasks, err := app.queue.List(filter)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Tasks (%d)\n", len(tasks))
	fmt.Println(strings.Repeat("─", 70))
	for _, t := range tasks {
		printTask(&t)
	}

	return nil
}

func printTask(t *queue.Task) {
	fmt.Printf("  %s  [%s] %s\n", t.ID, t.Priority, util.TruncateString(t.Description, 80))
	fmt.Printf("    Status:  %s\n", statusLabel(t))
	fmt.Printf("    Created: %s\n", t.CreatedAt.Format(time.RFC822))
	if len(t.DependsOn) > 0 {
		fmt.Printf("    Depends: %s\n", strings.Join(t.DependsOn, ", "))
	}
	if t.Context != "" {
		fmt.Printf("    Context: %s\n", t.Context)
	}
	fmt.Println()
}

func statusLabel(t *queue.Task) string {
	switch t.Status {
	case queue.StatusClaimed:
		return statusWarn.Sprintf("claimed by %s", t.ClaimedBy)
	case queue.StatusCompleted:
		return statusGood.Sprint("completed")
	default:
		return string(t.Status)
	}
}
