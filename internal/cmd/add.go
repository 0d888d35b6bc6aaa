package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crowdwork/workq/internal/errors"
	"github.com/crowdwork/workq/internal/queue"
)

var addCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Add a task to the shared queue",
	Long: `Add a task to the shared queue. The task starts available and can be
claimed by any registered session once its dependencies (if any) are
completed.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runAdd,
}

var (
	addPriority  string
	addContext   string
	addDependsOn []string
)

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVarP(&addPriority, "priority", "p", "normal", "task priority: high, normal, or low")
	addCmd.Flags().StringVar(&addContext, "context", "", "supplementary note attached to the task")
	addCmd.Flags().StringSliceVar(&addDependsOn, "depends-on", nil, "task IDs that must complete before this one is claimable")
}

func runAdd(cmd *cobra.Command, args []string) error {
	priority, err := parsePriorityFlag(addPriority)
	if err != nil {
		return err
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	task, err := app.queue.Add(args[0], priority, addContext, addDependsOn)
	if err != nil {
		return err
	}

	printStatus(statusGood, "✓", "added task %s (%s priority)", task.ID, task.Priority)
	return nil
}

// parsePriorityFlag accepts the priority by name or by numeric level.
func parsePriorityFlag(arg string) (queue.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "", "normal":
		return queue.PriorityNormal, nil
	case "high":
		return queue.PriorityHigh, nil
	case "low":
		return queue.PriorityLow, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, errors.NewValidationError("priority must be high, normal, or low").
			WithField("priority")
	}
	return queue.ParsePriority(n)
}
