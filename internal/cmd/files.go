package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crowdwork/workq/internal/advisor"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Track file edits across sessions",
	Long: `Commands for the file-conflict advisor. The advisor remembers which
session most recently edited each path and warns sessions that are about
to step on a recent edit by someone else. Warnings are advisory: nothing
is ever blocked.`,
}

var filesCheckCmd = &cobra.Command{
	Use:   "check <path> [session-tag]",
	Short: "Check a path for recent edits by other sessions",
	Args:  usageArgs(cobra.RangeArgs(1, 2)),
	RunE:  runFilesCheck,
}

var filesRecordCmd = &cobra.Command{
	Use:   "record <path> [session-tag]",
	Short: "Record that a session edited a path",
	Args:  usageArgs(cobra.RangeArgs(1, 2)),
	RunE:  runFilesRecord,
}

var filesWatchCmd = &cobra.Command{
	Use:   "watch [session-tag]",
	Short: "Watch the project tree and record edits automatically",
	Long: `Watch the project tree and record every file write as an edit by the
session, so the session does not have to report edits by hand. Runs until
interrupted.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runFilesWatch,
}

func init() {
	rootCmd.AddCommand(filesCmd)
	filesCmd.AddCommand(filesCheckCmd)
	filesCmd.AddCommand(filesRecordCmd)
	filesCmd.AddCommand(filesWatchCmd)
}

func runFilesCheck(cmd *cobra.Command, args []string) error {
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

	warning, err := app.advisor.Check(args[0], tag)
	if err != nil {
		return err
	}

	if warning == "" {
		printStatus(statusGood, "✓", "%s is clear", args[0])
		return nil
	}

	printStatus(statusWarn, "⚠", "%s", warning)
	return nil
}

func runFilesRecord(cmd *cobra.Command, args []string) error {
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

	if err := app.advisor.RecordEdit(args[0], tag); err != nil {
		return err
	}

	printStatus(statusGood, "✓", "recorded edit of %s by %s", args[0], tag)
	return nil
}

func runFilesWatch(cmd *cobra.Command, args []string) error {
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

	root := viper.GetString("dir")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		root = cwd
	}

	watcher, err := advisor.NewWatcher(app.advisor, root, tag, app.logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s as %s (ctrl-c to stop)\n", root, tag)
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
