package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crowdwork/workq/internal/config"
	"github.com/crowdwork/workq/internal/queue"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this process as a session",
	Long: `Register this process as a session in the shared registry. Without
--tag (or WORKQ_SESSION_TAG), the lowest unused worker-N tag is
allocated. A tag held by a dead process is taken over; a tag held by a
live process falls back to worker-N allocation.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runRegister,
}

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat [session-tag]",
	Short: "Refresh a session's heartbeat",
	Long: `Refresh a session's heartbeat so it keeps counting as live. Sessions
that neither heartbeat nor act for the liveness window become stale and
their claims are recoverable.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runHeartbeat,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List registered sessions",
	Long: `List registered sessions with their liveness and how many tasks each
one currently holds. Stale sessions are hidden unless --all is set.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runSessions,
}

var (
	registerTagValue string
	sessionsAll      bool
)

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(sessionsCmd)

	registerCmd.Flags().StringVar(&registerTagValue, "tag", "", "preferred session tag")
	sessionsCmd.Flags().BoolVar(&sessionsAll, "all", false, "include stale sessions")
}

func runRegister(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	sess, err := app.registry.Register(config.SessionTag(registerTagValue))
	if err != nil {
		return err
	}

	printStatus(statusGood, "✓", "registered session %s (pid %d)", sess.Tag, sess.PID)
	if registerTagValue != "" && sess.Tag != registerTagValue {
		printStatus(statusWarn, "⚠", "tag %q is held by a live session; allocated %s instead", registerTagValue, sess.Tag)
	}
	return nil
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
	explicit := ""
	if len(args) > 0 {
		explicit = args[0]
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

	if err := app.registry.Heartbeat(tag); err != nil {
		return err
	}

	printStatus(statusGood, "✓", "heartbeat recorded for %s", tag)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	sessions, err := app.registry.List(sessionsAll)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions registered.")
		return nil
	}

	claimCounts, err := claimCountsByTag(app.queue)
	if err != nil {
		return err
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Sessions (%d)\n", len(sessions))
	fmt.Println(strings.Repeat("─", 70))
	for _, s := range sessions {
		liveness := statusGood.Sprint("live")
		if !s.Live(app.registry.Liveness()) {
			liveness = statusBad.Sprint("stale")
		}
		fmt.Printf("  %s  %s\n", s.Tag, liveness)
		fmt.Printf("    PID:       %d\n", s.PID)
		fmt.Printf("    Heartbeat: %s\n", s.LastHeartbeat.Format(time.RFC822))
		if n := claimCounts[s.Tag]; n > 0 {
			fmt.Printf("    Claimed:   %d task(s)\n", n)
		}
		fmt.Println()
	}

	return nil
}

// claimCountsByTag counts claimed tasks per session tag.
func claimCountsByTag(q *queue.Store) (map[string]int, error) {
	claimed, err := q.List(queue.FilterClaimed)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(claimed))
	for _, t := range claimed {
		counts[t.ClaimedBy]++
	}
	return counts, nil
}
