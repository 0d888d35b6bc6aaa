package queue

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/crowdwork/workq/internal/errors"
	"github.com/crowdwork/workq/internal/logging"
)

func newTestQueue(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), logging.NopLogger())
}

func TestAdd(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Add("Fix bug", PriorityHigh, "see issue #42", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if task.ID == "" {
		t.Error("task ID should be generated")
	}
	if task.Status != StatusAvailable {
		t.Errorf("Status = %s, want available", task.Status)
	}
	if task.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if task.ClaimedAt != nil || task.CompletedAt != nil {
		t.Error("claim/complete timestamps should be absent at creation")
	}

	// Round-trips through the document.
	got, err := q.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Description != "Fix bug" || got.Context != "see issue #42" {
		t.Errorf("Get = %+v", got)
	}
}

func TestAddValidation(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.Add("", PriorityNormal, "", nil); !errors.IsUsage(err) {
		t.Errorf("empty description: err = %v, want validation error", err)
	}
	if _, err := q.Add("   ", PriorityNormal, "", nil); !errors.IsUsage(err) {
		t.Errorf("blank description: err = %v, want validation error", err)
	}
	if _, err := q.Add("ok", Priority(9), "", nil); !errors.IsUsage(err) {
		t.Errorf("bad priority: err = %v, want validation error", err)
	}
}

func TestAddDefaultPriority(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Add("defaults", 0, "", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if task.Priority != PriorityNormal {
		t.Errorf("Priority = %v, want normal", task.Priority)
	}
}

func TestUniqueIDs(t *testing.T) {
	q := newTestQueue(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		task, err := q.Add("task", PriorityNormal, "", nil)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if seen[task.ID] {
			t.Fatalf("duplicate task ID %s", task.ID)
		}
		seen[task.ID] = true
	}
}

func TestClaimComplete(t *testing.T) {
	q := newTestQueue(t)

	task, _ := q.Add("Fix bug", PriorityHigh, "", nil)

	claimed, err := q.Claim(task.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != StatusClaimed || claimed.ClaimedBy != "worker-1" {
		t.Errorf("claimed = %+v", claimed)
	}
	if claimed.ClaimedAt == nil {
		t.Error("ClaimedAt should be set on claim")
	}

	// The ownership invariant: only the claimant completes.
	if _, err := q.Complete(task.ID, "worker-2"); !errors.Is(err, errors.ErrNotOwner) {
		t.Errorf("Complete by non-owner: err = %v, want ErrNotOwner", err)
	}

	completed, err := q.Complete(task.ID, "worker-1")
	if err != nil {
		t.Fatalf("Complete by owner: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if completed.ClaimedBy != "" {
		t.Error("ClaimedBy should be cleared on completion")
	}
}

func TestClaimFailures(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.Claim("missing", "worker-1"); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("unknown id: err = %v, want ErrTaskNotFound", err)
	}

	task, _ := q.Add("contested", PriorityNormal, "", nil)
	if _, err := q.Complete(task.ID, "worker-1"); !errors.Is(err, errors.ErrNotClaimed) {
		t.Errorf("complete of available: err = %v, want ErrNotClaimed", err)
	}
	if _, err := q.Claim(task.ID, "worker-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	_, err := q.Claim(task.ID, "worker-2")
	if !errors.Is(err, errors.ErrAlreadyClaimed) {
		t.Fatalf("double claim: err = %v, want ErrAlreadyClaimed", err)
	}
	// The failure names the current claimant.
	if got := err.Error(); !strings.Contains(got, "worker-1") {
		t.Errorf("error %q should name the claimant", got)
	}

	if _, err := q.Complete(task.ID, "worker-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := q.Claim(task.ID, "worker-2"); !errors.Is(err, errors.ErrAlreadyCompleted) {
		t.Errorf("claim of completed: err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestDependencyGating(t *testing.T) {
	q := newTestQueue(t)

	dep, _ := q.Add("build the schema", PriorityNormal, "", nil)
	task, _ := q.Add("write the queries", PriorityNormal, "", []string{dep.ID})

	// Blocked while the dependency is available.
	if _, err := q.Claim(task.ID, "worker-1"); !errors.Is(err, errors.ErrDependencyBlocked) {
		t.Errorf("err = %v, want ErrDependencyBlocked", err)
	}

	// Still blocked while the dependency is merely claimed.
	if _, err := q.Claim(dep.ID, "worker-2"); err != nil {
		t.Fatalf("Claim dep: %v", err)
	}
	if _, err := q.Claim(task.ID, "worker-1"); !errors.Is(err, errors.ErrDependencyBlocked) {
		t.Errorf("err = %v, want ErrDependencyBlocked while dep claimed", err)
	}

	// Claimable the moment the dependency completes.
	if _, err := q.Complete(dep.ID, "worker-2"); err != nil {
		t.Fatalf("Complete dep: %v", err)
	}
	if _, err := q.Claim(task.ID, "worker-1"); err != nil {
		t.Errorf("Claim after dep completed: %v", err)
	}
}

func TestRemovedDependencyStaysBlocking(t *testing.T) {
	q := newTestQueue(t)

	dep, _ := q.Add("dep", PriorityNormal, "", nil)
	task, _ := q.Add("dependent", PriorityNormal, "", []string{dep.ID})

	if err := q.Remove(dep.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// A vanished dependency counts as unmet, not satisfied.
	if _, err := q.Claim(task.ID, "worker-1"); !errors.Is(err, errors.ErrDependencyBlocked) {
		t.Errorf("err = %v, want ErrDependencyBlocked for missing dep", err)
	}
}

func TestListFilterAndOrder(t *testing.T) {
	q := newTestQueue(t)

	low, _ := q.Add("low", PriorityLow, "", nil)
	first, _ := q.Add("normal first", PriorityNormal, "", nil)
	second, _ := q.Add("normal second", PriorityNormal, "", nil)
	high, _ := q.Add("high", PriorityHigh, "", nil)

	if _, err := q.Claim(first.ID, "worker-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := q.Complete(first.ID, "worker-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Default filter hides completed tasks.
	open, err := q.List(FilterOpen)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	wantOrder := []string{high.ID, second.ID, low.ID}
	if len(open) != len(wantOrder) {
		t.Fatalf("List returned %d tasks, want %d", len(open), len(wantOrder))
	}
	for i, id := range wantOrder {
		if open[i].ID != id {
			t.Errorf("open[%d].ID = %s, want %s", i, open[i].ID, id)
		}
	}

	completed, _ := q.List(FilterCompleted)
	if len(completed) != 1 || completed[0].ID != first.ID {
		t.Errorf("completed = %v", completed)
	}

	all, _ := q.List(FilterAll)
	if len(all) != 4 {
		t.Errorf("all = %d tasks, want 4", len(all))
	}
}

func TestRemove(t *testing.T) {
	q := newTestQueue(t)

	task, _ := q.Add("short-lived", PriorityNormal, "", nil)
	if _, err := q.Claim(task.ID, "worker-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// Remove is unconditional, claimed or not.
	if err := q.Remove(task.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := q.Get(task.ID); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("Get after Remove: err = %v, want ErrTaskNotFound", err)
	}
	if err := q.Remove(task.ID); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("double Remove: err = %v, want ErrTaskNotFound", err)
	}
}

func TestForceUnclaim(t *testing.T) {
	q := newTestQueue(t)

	task, _ := q.Add("stuck work", PriorityNormal, "original note", nil)
	if _, err := q.Claim(task.ID, "worker-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	released, err := q.ForceUnclaim(task.ID, "claimant session no longer live")
	if err != nil {
		t.Fatalf("ForceUnclaim: %v", err)
	}
	if released.Status != StatusAvailable {
		t.Errorf("Status = %s, want available", released.Status)
	}
	if released.ClaimedBy != "" || released.ClaimedAt != nil {
		t.Error("claim fields should be cleared")
	}
	// The audit note names the cause and the previous claimant.
	if !strings.Contains(released.Context, "original note") ||
		!strings.Contains(released.Context, "worker-1") ||
		!strings.Contains(released.Context, "claimant session no longer live") {
		t.Errorf("Context = %q, want audit note appended", released.Context)
	}

	// Re-claimable after release.
	if _, err := q.Claim(task.ID, "worker-2"); err != nil {
		t.Errorf("Claim after ForceUnclaim: %v", err)
	}
}

func TestForceUnclaimOnlyClaimed(t *testing.T) {
	q := newTestQueue(t)

	task, _ := q.Add("never claimed", PriorityNormal, "", nil)
	if _, err := q.ForceUnclaim(task.ID, "note"); !errors.Is(err, errors.ErrNotClaimed) {
		t.Errorf("err = %v, want ErrNotClaimed", err)
	}

	if _, err := q.Claim(task.ID, "worker-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := q.Complete(task.ID, "worker-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Force-unclaim never resurrects completed work.
	if _, err := q.ForceUnclaim(task.ID, "note"); !errors.Is(err, errors.ErrNotClaimed) {
		t.Errorf("force-unclaim of completed: err = %v, want ErrNotClaimed", err)
	}
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	q := newTestQueue(t)

	task, _ := q.Add("contested", PriorityNormal, "", nil)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = q.Claim(task.ID, tagFor(n))
		}(i)
	}
	wg.Wait()

	var winners, alreadyClaimed int
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, errors.ErrAlreadyClaimed):
			alreadyClaimed++
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if alreadyClaimed != workers-1 {
		t.Errorf("already-claimed losers = %d, want %d", alreadyClaimed, workers-1)
	}

	got, _ := q.Get(task.ID)
	if got.Status != StatusClaimed || got.ClaimedBy == "" {
		t.Errorf("post-condition: task = %+v", got)
	}
}

func TestParseFilter(t *testing.T) {
	if f, err := ParseFilter(""); err != nil || f != FilterOpen {
		t.Errorf("ParseFilter(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFilter("bogus"); !errors.IsUsage(err) {
		t.Errorf("ParseFilter(bogus): err = %v, want validation error", err)
	}
}

func tagFor(n int) string {
	return fmt.Sprintf("worker-%d", n+1)
}
