// Package registry implements the persisted registry of worker sessions.
// Each participating process registers under a stable human-readable tag
// and refreshes a heartbeat; liveness combines heartbeat age with an OS
// process check so a quiet-but-running worker is never evicted on
// heartbeat age alone.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crowdwork/workq/internal/errors"
	"github.com/crowdwork/workq/internal/logging"
	"github.com/crowdwork/workq/internal/proc"
	"github.com/crowdwork/workq/internal/statefile"
)

// DocumentName is the session document's file name within the state directory.
const DocumentName = "sessions.json"

// DefaultLiveness is the heartbeat age past which a session is considered
// stale (subject to the PID check).
const DefaultLiveness = 30 * time.Minute

// workerTagPrefix prefixes auto-allocated session tags: worker-1, worker-2, ...
const workerTagPrefix = "worker-"

// Session is one registered worker process.
type Session struct {
	// Tag is the session's stable human-readable identifier.
	Tag string `json:"tag"`

	// PID is the owning process, used for liveness checks.
	PID int `json:"pid"`

	// LastHeartbeat is refreshed by any activity from the session.
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Live reports whether the session counts as live: heartbeat younger than
// the threshold AND the owning process still running.
func (s *Session) Live(threshold time.Duration) bool {
	return time.Since(s.LastHeartbeat) < threshold && proc.Alive(s.PID)
}

// Document is the persisted registry state.
type Document struct {
	Sessions []Session `json:"sessions"`
}

// find returns a pointer into the document's session slice, or nil.
func (d *Document) find(tag string) *Session {
	for i := range d.Sessions {
		if d.Sessions[i].Tag == tag {
			return &d.Sessions[i]
		}
	}
	return nil
}

// Registry exposes session operations over the shared session document.
type Registry struct {
	doc      *statefile.Store[Document]
	liveness time.Duration
	logger   *logging.Logger
}

// NewRegistry creates a Registry backed by {stateDir}/sessions.json.
// A non-positive liveness selects DefaultLiveness.
func NewRegistry(stateDir string, liveness time.Duration, logger *logging.Logger, opts ...statefile.Option) *Registry {
	if liveness <= 0 {
		liveness = DefaultLiveness
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	opts = append(opts, statefile.WithLogger(logger))
	return &Registry{
		doc:      statefile.New[Document](filepath.Join(stateDir, DocumentName), opts...),
		liveness: liveness,
		logger:   logger.WithStore("sessions"),
	}
}

// Register records the calling process as a session and returns it. If
// preferredTag is free it is used; otherwise the lowest-numbered unused
// worker-N tag is allocated. A tag whose previous owner is this same
// process, or whose owner is dead, counts as free (restart and takeover
// respectively).
func (r *Registry) Register(preferredTag string) (*Session, error) {
	pid := os.Getpid()
	var registered Session

	err := r.doc.Update(func(d *Document) error {
		tag := preferredTag
		if tag != "" {
			if existing := d.find(tag); existing != nil {
				switch {
				case existing.PID == pid:
					// Re-registration by the same process: refresh in place.
					existing.LastHeartbeat = time.Now()
					registered = *existing
					return nil
				case proc.Alive(existing.PID):
					// Held by a live process; fall through to worker-N.
					tag = ""
				default:
					// Previous owner is dead; take the tag over.
					*existing = Session{Tag: tag, PID: pid, LastHeartbeat: time.Now()}
					registered = *existing
					return nil
				}
			}
		}
		if tag == "" {
			tag = allocateWorkerTag(d)
		}

		registered = Session{Tag: tag, PID: pid, LastHeartbeat: time.Now()}
		d.Sessions = append(d.Sessions, registered)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("session registered", "session_tag", registered.Tag, "pid", registered.PID)
	return &registered, nil
}

// allocateWorkerTag returns the lowest-numbered worker-N tag not present
// in the document.
func allocateWorkerTag(d *Document) string {
	for n := 1; ; n++ {
		tag := fmt.Sprintf("%s%d", workerTagPrefix, n)
		if d.find(tag) == nil {
			return tag
		}
	}
}

// Heartbeat refreshes the session's last_heartbeat. Idempotent; an
// unknown tag is a no-op rather than an error, which covers a worker
// heartbeating across a registry wipe or restart race.
func (r *Registry) Heartbeat(tag string) error {
	return r.doc.Update(func(d *Document) error {
		if s := d.find(tag); s != nil {
			s.LastHeartbeat = time.Now()
		}
		return nil
	})
}

// List returns registered sessions, filtered to live sessions unless
// includeStale is set. Pure read: no lock is taken.
func (r *Registry) List(includeStale bool) ([]Session, error) {
	d, err := r.doc.Load()
	if err != nil {
		return nil, err
	}

	var sessions []Session
	for i := range d.Sessions {
		if includeStale || d.Sessions[i].Live(r.liveness) {
			sessions = append(sessions, d.Sessions[i])
		}
	}
	return sessions, nil
}

// Get returns the session with the given tag.
func (r *Registry) Get(tag string) (*Session, error) {
	d, err := r.doc.Load()
	if err != nil {
		return nil, err
	}
	s := d.find(tag)
	if s == nil {
		return nil, errors.NewNotFoundError("session", tag)
	}
	cp := *s
	return &cp, nil
}

// Liveness returns the registry's liveness threshold.
func (r *Registry) Liveness() time.Duration {
	return r.liveness
}

// Expire removes session records that are heartbeat-stale AND whose
// process is confirmed dead, returning the removed sessions. A session
// that is merely heartbeat-stale but whose process is still alive is
// left alone: a busy-but-quiet worker is not evicted on heartbeat age.
func (r *Registry) Expire() ([]Session, error) {
	var removed []Session

	err := r.doc.Update(func(d *Document) error {
		kept := d.Sessions[:0]
		for _, s := range d.Sessions {
			stale := !s.Live(r.liveness)
			if stale && !proc.Alive(s.PID) {
				removed = append(removed, s)
				continue
			}
			kept = append(kept, s)
		}
		d.Sessions = kept
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, s := range removed {
		r.logger.Warn("session expired", "session_tag", s.Tag, "pid", s.PID)
	}
	return removed, nil
}
