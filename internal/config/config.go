// Package config defines workq's configuration, loaded via viper from a
// config file, environment variables (WORKQ_*), and built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SessionTagEnv is the environment variable consulted for the session tag
// when a command does not receive one explicitly.
const SessionTagEnv = "WORKQ_SESSION_TAG"

// Config represents the complete workq configuration.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Lock     LockConfig     `mapstructure:"lock"`
	Session  SessionConfig  `mapstructure:"session"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Conflict ConflictConfig `mapstructure:"conflict"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PathsConfig controls where shared state lives.
type PathsConfig struct {
	// StateDir is the project-local directory holding the queue, session,
	// and file-conflict documents plus their lock files.
	// Relative paths are resolved against the working directory.
	// Default: ".workq"
	StateDir string `mapstructure:"state_dir"`
}

// LockConfig controls cross-process lock behavior.
type LockConfig struct {
	// TimeoutSeconds is how long lock acquisition retries before failing.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// StaleSeconds is the age past which a held lock is force-broken.
	StaleSeconds int `mapstructure:"stale_seconds"`
}

// SessionConfig controls session liveness.
type SessionConfig struct {
	// LivenessMinutes is the heartbeat age past which a session is
	// considered stale (subject to the PID check).
	LivenessMinutes int `mapstructure:"liveness_minutes"`
}

// QueueConfig controls queue recovery behavior.
type QueueConfig struct {
	// StaleClaimMinutes is the claim age past which a claimed task is
	// presumed abandoned and forcibly released by the sweeper.
	StaleClaimMinutes int `mapstructure:"stale_claim_minutes"`
}

// ConflictConfig controls the file-conflict advisor.
type ConflictConfig struct {
	// RecencyMinutes is the window within which another session's edit
	// to the same path produces a warning.
	RecencyMinutes int `mapstructure:"recency_minutes"`
}

// LoggingConfig controls the debug log.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level"`
}

// ResolveStateDir resolves the state directory against baseDir when the
// configured path is relative.
func (p *PathsConfig) ResolveStateDir(baseDir string) string {
	if filepath.IsAbs(p.StateDir) {
		return p.StateDir
	}
	return filepath.Join(baseDir, p.StateDir)
}

// LockTimeout returns the lock acquisition timeout as a duration.
func (l *LockConfig) LockTimeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// LockStaleAge returns the lock staleness threshold as a duration.
func (l *LockConfig) LockStaleAge() time.Duration {
	return time.Duration(l.StaleSeconds) * time.Second
}

// Liveness returns the session liveness threshold as a duration.
func (s *SessionConfig) Liveness() time.Duration {
	return time.Duration(s.LivenessMinutes) * time.Minute
}

// StaleClaimAge returns the stale-claim threshold as a duration.
func (q *QueueConfig) StaleClaimAge() time.Duration {
	return time.Duration(q.StaleClaimMinutes) * time.Minute
}

// RecencyWindow returns the conflict recency window as a duration.
func (c *ConflictConfig) RecencyWindow() time.Duration {
	return time.Duration(c.RecencyMinutes) * time.Minute
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Paths:    PathsConfig{StateDir: ".workq"},
		Lock:     LockConfig{TimeoutSeconds: 30, StaleSeconds: 60},
		Session:  SessionConfig{LivenessMinutes: 30},
		Queue:    QueueConfig{StaleClaimMinutes: 30},
		Conflict: ConflictConfig{RecencyMinutes: 10},
		Logging:  LoggingConfig{Level: "INFO"},
	}
}

// SetDefaults registers the built-in defaults with viper so they apply
// even when no config file exists.
func SetDefaults() {
	d := Default()

	viper.SetDefault("paths.state_dir", d.Paths.StateDir)
	viper.SetDefault("lock.timeout_seconds", d.Lock.TimeoutSeconds)
	viper.SetDefault("lock.stale_seconds", d.Lock.StaleSeconds)
	viper.SetDefault("session.liveness_minutes", d.Session.LivenessMinutes)
	viper.SetDefault("queue.stale_claim_minutes", d.Queue.StaleClaimMinutes)
	viper.SetDefault("conflict.recency_minutes", d.Conflict.RecencyMinutes)
	viper.SetDefault("logging.level", d.Logging.Level)
}

// Load unmarshals the current viper state into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the loaded configuration, falling back to defaults if
// unmarshaling fails. Commands use this so a malformed config file
// degrades to defaults instead of aborting the invocation.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the directory searched for the workq config file.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "workq")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "workq")
}

// SessionTag returns the explicit tag when non-empty, otherwise the value
// of WORKQ_SESSION_TAG. Returns "" when neither is set.
func SessionTag(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(SessionTagEnv)
}
