// Package lockfile provides cross-process mutual exclusion over a shared
// filesystem. Each named lock is a lock file held via an OS-level exclusive
// lock, paired with a lock-info sidecar recording the holder's PID and
// acquisition time so that locks abandoned by crashed processes can be
// detected and broken.
//
// Callers acquire through the scoped helper so release runs on every exit
// path:
//
//	err := lockfile.WithLock(path, timeout, staleAge, func() error {
//	    // read-modify-write the protected document
//	    return nil
//	})
package lockfile

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/crowdwork/workq/internal/errors"
	"github.com/crowdwork/workq/internal/proc"
)

// Defaults applied when Acquire receives zero durations.
const (
	// DefaultTimeout bounds how long acquisition retries before failing.
	DefaultTimeout = 30 * time.Second
	// DefaultStaleAge is the held-lock age past which the lock is presumed
	// abandoned and force-broken even if the holder PID still exists.
	DefaultStaleAge = 60 * time.Second
)

// Retry backoff parameters for contended acquisition.
const (
	retryInitial    = 100 * time.Millisecond
	retryMultiplier = 1.5
	retryCap        = time.Second
)

// infoSuffix is appended to the lock path to form the lock-info sidecar.
const infoSuffix = ".info"

// Info is the serialized contents of the lock-info sidecar.
type Info struct {
	HolderPID  int       `json:"holder_pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Handle represents a held lock. Release is safe to call multiple times.
type Handle struct {
	path     string
	infoPath string
	file     *os.File
	mu       sync.Mutex
	released bool
}

// Acquire obtains an exclusive lock on the given lock file, retrying with
// exponential backoff until timeout elapses. Zero timeout and staleAge
// select the package defaults.
//
// Before each retry the lock-info sidecar is inspected: if the recorded
// holder PID is no longer a live process, or the lock is older than
// staleAge, the lock is force-broken and acquisition retried immediately.
// On timeout an errors.TimeoutError (matching errors.ErrLockTimeout) is
// returned.
func Acquire(path string, timeout, staleAge time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}

	deadline := time.Now().Add(timeout)
	backoff := retryInitial

	for {
		f, acquired, err := tryLock(path)
		if err != nil {
			return nil, errors.Wrap(err, "acquire lock")
		}
		if acquired {
			h := &Handle{
				path:     path,
				infoPath: path + infoSuffix,
				file:     f,
			}
			if err := h.writeInfo(); err != nil {
				_ = h.Release()
				return nil, errors.Wrap(err, "write lock info")
			}
			return h, nil
		}

		if broke := breakIfStale(path, staleAge); broke {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.NewTimeoutError("acquire lock "+path, timeout).
				WithCause(errors.ErrLockTimeout)
		}

		// Sleep at most the residual so the full timeout is spent
		// retrying, with one final attempt at the deadline.
		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		backoff = time.Duration(float64(backoff) * retryMultiplier)
		if backoff > retryCap {
			backoff = retryCap
		}
	}
}

// WithLock runs fn while holding the lock, guaranteeing release on all
// exit paths including panics.
func WithLock(path string, timeout, staleAge time.Duration, fn func() error) error {
	h, err := Acquire(path, timeout, staleAge)
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()
	return fn()
}

// Release clears the lock-info sidecar, if this process still owns it,
// and drops the OS lock. A second call is a no-op.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	// Only remove the sidecar while it is still ours. If a contender
	// force-broke this lock past its stale age and wrote its own sidecar,
	// removing that here would blind age-based stale detection for the
	// new holder's entire holding period.
	if info, err := ReadInfo(h.path); err != nil || info.HolderPID == os.Getpid() {
		_ = os.Remove(h.infoPath)
	}

	if h.file != nil {
		err := unlock(h.file)
		closeErr := h.file.Close()
		h.file = nil
		if err != nil {
			return err
		}
		return closeErr
	}
	return nil
}

// writeInfo records the holder PID and acquisition time in the sidecar.
// The lock is already held, so a plain truncating write suffices.
func (h *Handle) writeInfo() error {
	data, err := json.Marshal(Info{
		HolderPID:  os.Getpid(),
		AcquiredAt: time.Now(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(h.infoPath, data, 0644)
}

// ReadInfo returns the lock-info sidecar for the given lock path, or an
// error if it is absent or unparseable.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path + infoSuffix)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(errors.ErrCorruptState, "parse lock info")
	}
	return &info, nil
}

// breakIfStale force-breaks the lock when its recorded holder is dead or
// the lock has been held past staleAge. Returns true if the lock was
// broken and acquisition should be retried immediately.
//
// A missing or unreadable sidecar is not grounds for breaking: the OS lock
// releases on its own when the holder's descriptor closes, so a holder
// that crashed before writing its sidecar self-heals.
func breakIfStale(path string, staleAge time.Duration) bool {
	info, err := ReadInfo(path)
	if err != nil {
		return false
	}

	stale := !proc.Alive(info.HolderPID) || time.Since(info.AcquiredAt) > staleAge
	if !stale {
		return false
	}

	// Remove the lock file first: contenders lock a fresh inode afterwards,
	// so the dead holder's lock on the old inode no longer matters.
	_ = os.Remove(path)
	_ = os.Remove(path + infoSuffix)
	return true
}
