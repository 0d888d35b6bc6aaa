// Package queue implements the persisted multi-session work queue. Every
// mutation is an atomic read-modify-write of a single shared JSON document,
// serialized across processes by the document's lock; concurrent claims of
// the same task therefore resolve to exactly one winner.
package queue

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crowdwork/workq/internal/errors"
	"github.com/crowdwork/workq/internal/logging"
	"github.com/crowdwork/workq/internal/statefile"
)

// DocumentName is the queue document's file name within the state directory.
const DocumentName = "queue.json"

// Store exposes the work queue operations over the shared queue document.
type Store struct {
	doc    *statefile.Store[Document]
	logger *logging.Logger
}

// NewStore creates a Store backed by {stateDir}/queue.json. Options are
// forwarded to the underlying state file.
func NewStore(stateDir string, logger *logging.Logger, opts ...statefile.Option) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	opts = append(opts, statefile.WithLogger(logger))
	return &Store{
		doc:    statefile.New[Document](filepath.Join(stateDir, DocumentName), opts...),
		logger: logger.WithStore("queue"),
	}
}

// newTaskID generates a collision-resistant opaque task identifier.
func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Add validates and appends a new available task, returning it.
func (s *Store) Add(description string, priority Priority, context string, dependsOn []string) (*Task, error) {
	if strings.TrimSpace(description) == "" {
		return nil, errors.NewValidationError("description must not be empty").
			WithField("description")
	}
	if priority == 0 {
		priority = PriorityNormal
	}
	if _, err := ParsePriority(int(priority)); err != nil {
		return nil, err
	}

	task := Task{
		ID:          newTaskID(),
		Description: description,
		Priority:    priority,
		Context:     context,
		DependsOn:   dependsOn,
		Status:      StatusAvailable,
		CreatedAt:   time.Now(),
	}

	err := s.doc.Update(func(d *Document) error {
		d.Tasks = append(d.Tasks, task)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task added",
		"task_id", task.ID,
		"priority", task.Priority.String(),
		"depends_on", len(task.DependsOn),
	)
	return &task, nil
}

// List returns tasks matching the filter, sorted by priority then age.
// Pure read: no lock is taken; the atomic document replace guarantees a
// consistent snapshot.
func (s *Store) List(filter Filter) ([]Task, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}

	var tasks []Task
	for i := range d.Tasks {
		if filter.matches(&d.Tasks[i]) {
			tasks = append(tasks, d.Tasks[i])
		}
	}
	sortForDisplay(tasks)
	return tasks, nil
}

// Get returns the task with the given ID.
func (s *Store) Get(id string) (*Task, error) {
	d, err := s.doc.Load()
	if err != nil {
		return nil, err
	}
	t := d.find(id)
	if t == nil {
		return nil, errors.NewNotFoundError("task", id)
	}
	cp := *t
	return &cp, nil
}

// Claim takes exclusive responsibility for the task on behalf of the
// session. Fails with ErrTaskNotFound, ErrAlreadyClaimed (naming the
// current claimant), ErrAlreadyCompleted, or ErrDependencyBlocked.
func (s *Store) Claim(id, sessionTag string) (*Task, error) {
	if sessionTag == "" {
		return nil, errors.NewValidationError("session tag must not be empty").
			WithField("session-tag")
	}

	var claimed Task
	err := s.doc.Update(func(d *Document) error {
		t := d.find(id)
		if t == nil {
			return errors.NewNotFoundError("task", id)
		}
		switch t.Status {
		case StatusClaimed:
			return errors.Wrapf(errors.ErrAlreadyClaimed, "task %s is claimed by %s", id, t.ClaimedBy)
		case StatusCompleted:
			return errors.Wrapf(errors.ErrAlreadyCompleted, "task %s", id)
		}

		if blocked := incompleteDeps(d, t); len(blocked) > 0 {
			return errors.Wrapf(errors.ErrDependencyBlocked,
				"task %s waits on %s", id, strings.Join(blocked, ", "))
		}

		now := time.Now()
		t.Status = StatusClaimed
		t.ClaimedBy = sessionTag
		t.ClaimedAt = &now
		claimed = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task claimed", "task_id", id, "session_tag", sessionTag)
	return &claimed, nil
}

// Complete marks the task completed. Only the claiming session may
// complete a task: any other tag fails with ErrNotOwner.
func (s *Store) Complete(id, sessionTag string) (*Task, error) {
	if sessionTag == "" {
		return nil, errors.NewValidationError("session tag must not be empty").
			WithField("session-tag")
	}

	var completed Task
	err := s.doc.Update(func(d *Document) error {
		t := d.find(id)
		if t == nil {
			return errors.NewNotFoundError("task", id)
		}
		switch t.Status {
		case StatusCompleted:
			return errors.Wrapf(errors.ErrAlreadyCompleted, "task %s", id)
		case StatusAvailable:
			return errors.Wrapf(errors.ErrNotClaimed, "task %s", id)
		}
		if t.ClaimedBy != sessionTag {
			return errors.Wrapf(errors.ErrNotOwner,
				"task %s is claimed by %s, not %s", id, t.ClaimedBy, sessionTag)
		}

		now := time.Now()
		t.Status = StatusCompleted
		t.CompletedAt = &now
		t.ClaimedBy = ""
		completed = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task completed", "task_id", id, "session_tag", sessionTag)
	return &completed, nil
}

// Remove deletes the task unconditionally, regardless of status.
func (s *Store) Remove(id string) error {
	err := s.doc.Update(func(d *Document) error {
		for i := range d.Tasks {
			if d.Tasks[i].ID == id {
				d.Tasks = append(d.Tasks[:i], d.Tasks[i+1:]...)
				return nil
			}
		}
		return errors.NewNotFoundError("task", id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("task removed", "task_id", id)
	return nil
}

// ForceUnclaim reverts a claimed task to available, recording the reason
// in the task's context for auditability. It never completes a task, so
// the "only the claimant completes" invariant is never bypassed. Used by
// recovery sweeps and, exceptionally, by a human operator.
func (s *Store) ForceUnclaim(id, note string) (*Task, error) {
	var released Task
	err := s.doc.Update(func(d *Document) error {
		t := d.find(id)
		if t == nil {
			return errors.NewNotFoundError("task", id)
		}
		if t.Status != StatusClaimed {
			return errors.Wrapf(errors.ErrNotClaimed, "task %s is %s", id, t.Status)
		}

		previousClaimant := t.ClaimedBy
		t.Status = StatusAvailable
		t.ClaimedBy = ""
		t.ClaimedAt = nil
		t.Context = appendNote(t.Context, fmt.Sprintf("unclaimed from %s: %s", previousClaimant, note))
		released = *t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn("task force-unclaimed", "task_id", id, "note", note)
	return &released, nil
}

// incompleteDeps returns the subset of t.DependsOn that is not completed.
// A dependency ID that no longer exists in the document counts as unmet.
func incompleteDeps(d *Document, t *Task) []string {
	var blocked []string
	for _, depID := range t.DependsOn {
		dep := d.find(depID)
		if dep == nil || dep.Status != StatusCompleted {
			blocked = append(blocked, depID)
		}
	}
	return blocked
}

// appendNote appends an audit note to a task context.
func appendNote(context, note string) string {
	if context == "" {
		return note
	}
	return context + "; " + note
}
