// Package sweeper recovers work orphaned by crashed or abandoned
// sessions. A sweep expires dead session records, then releases every
// claimed task whose claimant is gone or whose claim has sat untouched
// past the staleness threshold. Sweeps are safe to run opportunistically
// before reads: they only ever move tasks back to the available state.
package sweeper

import (
	"fmt"
	"time"

	"github.com/crowdwork/workq/internal/logging"
	"github.com/crowdwork/workq/internal/queue"
	"github.com/crowdwork/workq/internal/registry"
)

// DefaultStaleClaimAge is how long a claim may sit before a sweep
// releases it even when the claimant still looks alive.
const DefaultStaleClaimAge = 30 * time.Minute

// Result reports what one sweep changed.
type Result struct {
	ExpiredSessions []string
	ReclaimedTasks  []string
}

// Empty reports whether the sweep changed nothing.
func (r Result) Empty() bool {
	return len(r.ExpiredSessions) == 0 && len(r.ReclaimedTasks) == 0
}

// Sweeper ties the queue and the session registry together for recovery.
type Sweeper struct {
	queue         *queue.Store
	registry      *registry.Registry
	staleClaimAge time.Duration
	logger        *logging.Logger
}

// New creates a Sweeper. A non-positive staleClaimAge selects
// DefaultStaleClaimAge.
func New(q *queue.Store, r *registry.Registry, staleClaimAge time.Duration, logger *logging.Logger) *Sweeper {
	if staleClaimAge <= 0 {
		staleClaimAge = DefaultStaleClaimAge
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sweeper{
		queue:         q,
		registry:      r,
		staleClaimAge: staleClaimAge,
		logger:        logger,
	}
}

// Sweep expires dead sessions, then releases stale claims. Tasks are
// released when their claimant has no live session record, or when the
// claim itself has exceeded the staleness threshold. Fresh claims held by
// live sessions are left alone.
func (s *Sweeper) Sweep() (Result, error) {
	var res Result

	expired, err := s.registry.Expire()
	if err != nil {
		return res, err
	}
	for _, sess := range expired {
		res.ExpiredSessions = append(res.ExpiredSessions, sess.Tag)
	}

	live, err := s.registry.List(false)
	if err != nil {
		return res, err
	}
	liveTags := make(map[string]bool, len(live))
	for _, sess := range live {
		liveTags[sess.Tag] = true
	}

	claimed, err := s.queue.List(queue.FilterClaimed)
	if err != nil {
		return res, err
	}

	for _, t := range claimed {
		note := s.releaseReason(t, liveTags)
		if note == "" {
			continue
		}

		if _, err := s.queue.ForceUnclaim(t.ID, note); err != nil {
			// Another process may have completed or removed the
			// task between the read and the unclaim.
			s.logger.Warn("sweep could not release task",
				"task_id", t.ID, "error", err)
			continue
		}
		res.ReclaimedTasks = append(res.ReclaimedTasks, t.ID)
		s.logger.Info("sweep released stale claim",
			"task_id", t.ID, "session_tag", t.ClaimedBy, "reason", note)
	}

	return res, nil
}

// releaseReason returns the unclaim note for a stale claim, or "" when
// the claim should stand.
func (s *Sweeper) releaseReason(t queue.Task, liveTags map[string]bool) string {
	if !liveTags[t.ClaimedBy] {
		return "claimant session no longer live"
	}
	if t.ClaimedAt != nil && time.Since(*t.ClaimedAt) > s.staleClaimAge {
		return fmt.Sprintf("claim exceeded %s staleness threshold", s.staleClaimAge)
	}
	return ""
}
