// Package cmd implements the workq command line interface.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crowdwork/workq/internal/advisor"
	"github.com/crowdwork/workq/internal/config"
	"github.com/crowdwork/workq/internal/errors"
	"github.com/crowdwork/workq/internal/logging"
	"github.com/crowdwork/workq/internal/queue"
	"github.com/crowdwork/workq/internal/registry"
	"github.com/crowdwork/workq/internal/statefile"
	"github.com/crowdwork/workq/internal/sweeper"
)

var rootCmd = &cobra.Command{
	Use:   "workq",
	Short: "Shared work queue for coordinated multi-session development",
	Long: `Workq coordinates multiple concurrent development sessions working on
a single project. Sessions register themselves, claim tasks from a shared
queue, and get warned before editing files another session touched
recently. All state lives in plain JSON files guarded by OS file locks,
so any number of processes can cooperate without a server.`,

	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to the process exit status: 0 for
// success, 2 for usage errors, 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.IsUsage(err) {
		return 2
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	// Flag-parse failures (unknown flag, bad value) are usage errors and
	// must exit 2, same as argument validation.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errors.NewValidationError(err.Error())
	})

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/workq/config.yaml)")
	rootCmd.PersistentFlags().StringP("dir", "C", "", "project directory (default is the working directory)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/workq")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WORKQ")
	// Replace dots with underscores for nested keys in env vars
	// e.g., WORKQ_LOCK_TIMEOUT_SECONDS for lock.timeout_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// app bundles the configuration and stores a command invocation needs.
type app struct {
	cfg      *config.Config
	stateDir string
	logger   *logging.Logger

	queue    *queue.Store
	registry *registry.Registry
	advisor  *advisor.Advisor
	sweeper  *sweeper.Sweeper
}

// newApp resolves configuration and opens every store against the
// project's state directory.
func newApp() (*app, error) {
	cfg := config.Get()

	baseDir := viper.GetString("dir")
	if baseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		baseDir = cwd
	}
	stateDir := cfg.Paths.ResolveStateDir(baseDir)

	logger, err := logging.NewLogger(stateDir, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	opts := []statefile.Option{
		statefile.WithLockTimeout(cfg.Lock.LockTimeout()),
		statefile.WithLockStaleAge(cfg.Lock.LockStaleAge()),
	}

	q := queue.NewStore(stateDir, logger, opts...)
	r := registry.NewRegistry(stateDir, cfg.Session.Liveness(), logger, opts...)
	a := advisor.NewAdvisor(stateDir, cfg.Conflict.RecencyWindow(), logger, opts...)

	return &app{
		cfg:      cfg,
		stateDir: stateDir,
		logger:   logger,
		queue:    q,
		registry: r,
		advisor:  a,
		sweeper:  sweeper.New(q, r, cfg.Queue.StaleClaimAge(), logger),
	}, nil
}

func (a *app) Close() {
	_ = a.logger.Close()
}

// sweepQuietly runs a recovery sweep before a read or claim. Sweep
// failures are logged and swallowed: a broken sweep must not make the
// queue unreadable.
func (a *app) sweepQuietly() {
	res, err := a.sweeper.Sweep()
	if err != nil {
		a.logger.Warn("opportunistic sweep failed", "error", err)
		return
	}
	if len(res.ReclaimedTasks) > 0 {
		printStatus(statusWarn, "⚠", "released %d stale claim(s)", len(res.ReclaimedTasks))
	}
}

// usageArgs wraps a cobra positional-argument validator so its failures
// count as usage errors for exit-code purposes.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return errors.NewValidationError(err.Error())
		}
		return nil
	}
}

// sessionTag resolves the session tag from the argument or the
// WORKQ_SESSION_TAG environment variable.
func sessionTag(explicit string) (string, error) {
	tag := config.SessionTag(explicit)
	if tag == "" {
		return "", errors.NewValidationError(
			"session tag required: pass it as an argument or set " + config.SessionTagEnv).
			WithField("session-tag")
	}
	return tag, nil
}

var (
	statusGood = color.New(color.FgGreen)
	statusWarn = color.New(color.FgYellow)
	statusBad  = color.New(color.FgRed)
)

// printStatus prints a status line with a colored leading symbol.
func printStatus(c *color.Color, symbol, format string, args ...any) {
	fmt.Printf("%s %s\n", c.Sprint(symbol), fmt.Sprintf(format, args...))
}
