package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	d := Default()

	if d.Paths.StateDir != ".workq" {
		t.Errorf("StateDir = %q, want .workq", d.Paths.StateDir)
	}
	if got := d.Lock.LockTimeout(); got != 30*time.Second {
		t.Errorf("LockTimeout = %v, want 30s", got)
	}
	if got := d.Lock.LockStaleAge(); got != 60*time.Second {
		t.Errorf("LockStaleAge = %v, want 60s", got)
	}
	if got := d.Session.Liveness(); got != 30*time.Minute {
		t.Errorf("Liveness = %v, want 30m", got)
	}
	if got := d.Queue.StaleClaimAge(); got != 30*time.Minute {
		t.Errorf("StaleClaimAge = %v, want 30m", got)
	}
	if got := d.Conflict.RecencyWindow(); got != 10*time.Minute {
		t.Errorf("RecencyWindow = %v, want 10m", got)
	}
}

func TestSetDefaultsAndLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lock.TimeoutSeconds != 30 {
		t.Errorf("lock.timeout_seconds = %d, want 30", cfg.Lock.TimeoutSeconds)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("logging.level = %q, want INFO", cfg.Logging.Level)
	}
}

func TestLoadOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("queue.stale_claim_minutes", 5)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Queue.StaleClaimAge(); got != 5*time.Minute {
		t.Errorf("StaleClaimAge = %v, want 5m", got)
	}
}

func TestResolveStateDir(t *testing.T) {
	p := PathsConfig{StateDir: ".workq"}
	if got := p.ResolveStateDir("/srv/project"); got != filepath.Join("/srv/project", ".workq") {
		t.Errorf("relative resolve = %q", got)
	}

	p = PathsConfig{StateDir: "/var/lib/workq"}
	if got := p.ResolveStateDir("/srv/project"); got != "/var/lib/workq" {
		t.Errorf("absolute resolve = %q", got)
	}
}

func TestSessionTag(t *testing.T) {
	t.Setenv(SessionTagEnv, "worker-env")

	if got := SessionTag("explicit"); got != "explicit" {
		t.Errorf("explicit tag = %q", got)
	}
	if got := SessionTag(""); got != "worker-env" {
		t.Errorf("env tag = %q", got)
	}

	t.Setenv(SessionTagEnv, "")
	if got := SessionTag(""); got != "" {
		t.Errorf("empty tag = %q", got)
	}
}
