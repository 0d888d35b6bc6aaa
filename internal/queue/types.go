package queue

import (
	"sort"
	"time"

	"github.com/crowdwork/workq/internal/errors"
)

// Status represents the current state of a task.
type Status string

const (
	// StatusAvailable indicates the task is waiting to be claimed.
	StatusAvailable Status = "available"

	// StatusClaimed indicates a session holds exclusive responsibility
	// for the task.
	StatusClaimed Status = "claimed"

	// StatusCompleted indicates the task is done. Completed is terminal:
	// no transition ever leaves it.
	StatusCompleted Status = "completed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Priority orders tasks for display. Lower values sort first.
type Priority int

const (
	// PriorityHigh sorts before all other work.
	PriorityHigh Priority = 1
	// PriorityNormal is the default.
	PriorityNormal Priority = 2
	// PriorityLow sorts last.
	PriorityLow Priority = 3
)

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts the numeric CLI value to a Priority.
func ParsePriority(n int) (Priority, error) {
	switch Priority(n) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(n), nil
	default:
		return 0, errors.NewValidationError("priority must be 1 (high), 2 (normal), or 3 (low)").
			WithField("priority")
	}
}

// Task is one unit of work in the shared queue.
type Task struct {
	// ID is an opaque unique identifier generated at creation.
	ID string `json:"id"`

	// Description is the free-text task statement. Never empty.
	Description string `json:"description"`

	// Priority orders the task for display; default PriorityNormal.
	Priority Priority `json:"priority"`

	// Context is an optional supplementary note. Recovery flows append
	// audit notes here.
	Context string `json:"context,omitempty"`

	// DependsOn lists task IDs that must be completed before this task
	// may be claimed.
	DependsOn []string `json:"depends_on,omitempty"`

	// Status is the current state.
	Status Status `json:"status"`

	// ClaimedBy is the claiming session's tag, present only while claimed.
	ClaimedBy string `json:"claimed_by,omitempty"`

	// CreatedAt is when the task was added.
	CreatedAt time.Time `json:"created_at"`

	// ClaimedAt is set exactly when the task transitions to claimed and
	// cleared when it reverts to available.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// CompletedAt is set when the task completes.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Document is the persisted queue state.
type Document struct {
	Tasks []Task `json:"tasks"`
}

// find returns a pointer into the document's task slice, or nil.
func (d *Document) find(id string) *Task {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// Filter selects which tasks List returns.
type Filter string

const (
	// FilterOpen returns all non-completed tasks. This is the default.
	FilterOpen Filter = "open"
	// FilterAll returns every task regardless of status.
	FilterAll Filter = "all"
	// FilterAvailable returns only unclaimed, claimable-or-blocked tasks.
	FilterAvailable Filter = "available"
	// FilterClaimed returns only claimed tasks.
	FilterClaimed Filter = "claimed"
	// FilterCompleted returns only completed tasks.
	FilterCompleted Filter = "completed"
)

// ParseFilter converts the CLI argument to a Filter. An empty argument
// selects FilterOpen.
func ParseFilter(arg string) (Filter, error) {
	switch Filter(arg) {
	case "":
		return FilterOpen, nil
	case FilterOpen, FilterAll, FilterAvailable, FilterClaimed, FilterCompleted:
		return Filter(arg), nil
	default:
		return "", errors.NewValidationError("filter must be one of: all, available, claimed, completed").
			WithField("filter")
	}
}

// matches reports whether a task passes the filter.
func (f Filter) matches(t *Task) bool {
	switch f {
	case FilterAll:
		return true
	case FilterAvailable:
		return t.Status == StatusAvailable
	case FilterClaimed:
		return t.Status == StatusClaimed
	case FilterCompleted:
		return t.Status == StatusCompleted
	default: // FilterOpen
		return t.Status != StatusCompleted
	}
}

// sortForDisplay orders tasks by priority ascending (high first), then
// created_at ascending (FIFO within a priority band). Presentation only:
// claim correctness never depends on this ordering.
func sortForDisplay(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
