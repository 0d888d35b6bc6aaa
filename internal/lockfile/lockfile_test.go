package lockfile

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/crowdwork/workq/internal/errors"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "queue.lock")
}

func TestAcquireRelease(t *testing.T) {
	path := lockPath(t)

	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Lock-info sidecar should name this process while held.
	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.HolderPID != os.Getpid() {
		t.Errorf("HolderPID = %d, want %d", info.HolderPID, os.Getpid())
	}
	if time.Since(info.AcquiredAt) > time.Minute {
		t.Errorf("AcquiredAt = %v, too old", info.AcquiredAt)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Sidecar is cleared on release.
	if _, err := ReadInfo(path); err == nil {
		t.Error("lock info should be removed after release")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	path := lockPath(t)

	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got: %v", err)
	}
}

func TestContendedAcquireTimesOut(t *testing.T) {
	path := lockPath(t)

	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = h.Release() }()

	// Holder is this live process with a fresh claim, so the contender
	// cannot break the lock and must time out.
	start := time.Now()
	_, err = Acquire(path, 300*time.Millisecond, time.Hour)
	if err == nil {
		t.Fatal("second Acquire should fail while lock is held")
	}
	if !errors.Is(err, errors.ErrLockTimeout) {
		t.Errorf("error = %v, want ErrLockTimeout", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("lock timeout should be retryable")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v, should respect the 300ms bound", elapsed)
	}
}

func TestContendedAcquireUsesFullTimeout(t *testing.T) {
	path := lockPath(t)

	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = h.Release() }()

	// The chosen timeout falls between backoff steps; the contender must
	// keep retrying up to the deadline instead of giving up a whole
	// backoff interval early.
	timeout := 300 * time.Millisecond
	start := time.Now()
	_, err = Acquire(path, timeout, time.Hour)
	if !errors.Is(err, errors.ErrLockTimeout) {
		t.Fatalf("error = %v, want ErrLockTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("gave up after %v, want at least %v", elapsed, timeout)
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	path := lockPath(t)

	h1, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := h1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	h2, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = h2.Release()
}

// overwriteInfo replaces the lock-info sidecar, simulating a holder that
// crashed (dead PID) or has held the lock too long.
func overwriteInfo(t *testing.T, path string, info Info) {
	t.Helper()
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	if err := os.WriteFile(path+infoSuffix, data, 0644); err != nil {
		t.Fatalf("write info: %v", err)
	}
}

func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper process: %v", err)
	}
	return pid
}

func TestBreaksLockOfDeadHolder(t *testing.T) {
	path := lockPath(t)

	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = h.Release() }()

	overwriteInfo(t, path, Info{HolderPID: deadPID(t), AcquiredAt: time.Now()})

	// The holder PID is dead, so the contender breaks the lock instead of
	// waiting out the timeout.
	h2, err := Acquire(path, 5*time.Second, time.Hour)
	if err != nil {
		t.Fatalf("Acquire should break dead holder's lock: %v", err)
	}
	_ = h2.Release()
}

func TestBreaksLockPastStaleAge(t *testing.T) {
	path := lockPath(t)

	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = h.Release() }()

	overwriteInfo(t, path, Info{
		HolderPID:  os.Getpid(),
		AcquiredAt: time.Now().Add(-2 * time.Minute),
	})

	// Holder is alive but the lock exceeded the 60s staleness threshold.
	h2, err := Acquire(path, 5*time.Second, DefaultStaleAge)
	if err != nil {
		t.Fatalf("Acquire should break a lock past its stale age: %v", err)
	}
	_ = h2.Release()
}

func TestReleaseKeepsSuccessorSidecar(t *testing.T) {
	path := lockPath(t)

	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Another process force-broke this age-stale lock and wrote its own
	// sidecar. The old holder's release must leave that sidecar alone so
	// stale detection keeps working against the new holder.
	successorPID := 1
	overwriteInfo(t, path, Info{HolderPID: successorPID, AcquiredAt: time.Now()})

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("successor's lock info should survive the release: %v", err)
	}
	if info.HolderPID != successorPID {
		t.Errorf("HolderPID = %d, want %d", info.HolderPID, successorPID)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	path := lockPath(t)

	wantErr := errors.New("mutation failed")
	err := WithLock(path, time.Second, 0, func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithLock error = %v, want %v", err, wantErr)
	}

	// The lock must be free again despite the error.
	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("lock should be released after failed WithLock: %v", err)
	}
	_ = h.Release()
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	path := lockPath(t)

	func() {
		defer func() { _ = recover() }()
		_ = WithLock(path, time.Second, 0, func() error {
			panic("critical section panicked")
		})
	}()

	h, err := Acquire(path, time.Second, 0)
	if err != nil {
		t.Fatalf("lock should be released after panic: %v", err)
	}
	_ = h.Release()
}
