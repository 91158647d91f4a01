package task

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newTestPool(t *testing.T, max int, descriptions ...string) *Pool {
	t.Helper()
	p := NewPool(max, nil)
	for _, d := range descriptions {
		if _, err := p.Enqueue(d); err != nil {
			t.Fatalf("Enqueue(%q): %v", d, err)
		}
	}
	return p
}

func TestPool_SequentialIDs(t *testing.T) {
	p := NewPool(10, nil)
	for want := 1; want <= 10; want++ {
		id, err := p.Enqueue(fmt.Sprintf("task %d", want))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if id != want {
			t.Fatalf("id = %d, want %d", id, want)
		}
	}
}

func TestPool_Bound(t *testing.T) {
	p := NewPool(3, nil)
	for i := 0; i < 3; i++ {
		if _, err := p.Enqueue("x"); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	before := p.List(nil)

	_, err := p.Enqueue("one too many")
	if !errors.Is(err, ErrPoolFull) {
		t.Fatalf("err = %v, want ErrPoolFull", err)
	}
	if p.Len() != 3 {
		t.Errorf("Len = %d, want 3", p.Len())
	}
	after := p.List(nil)
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Status != after[i].Status {
			t.Errorf("task %d changed after rejected enqueue", before[i].ID)
		}
	}

	// A rejected enqueue must not consume an id.
	p2 := NewPool(1, nil)
	p2.Enqueue("a") //nolint:errcheck
	p2.Enqueue("b") //nolint:errcheck
	if _, ok := p2.Find(2); ok {
		t.Error("rejected task should not exist")
	}
}

func TestPool_DefaultCapacity(t *testing.T) {
	if got := NewPool(0, nil).Cap(); got != DefaultMaxTasks {
		t.Errorf("Cap = %d, want %d", got, DefaultMaxTasks)
	}
}

func TestPool_EnqueueValidation(t *testing.T) {
	p := NewPool(5, nil)
	if _, err := p.Enqueue(strings.Repeat("a", MaxDescriptionLength+1)); !errors.Is(err, ErrDescriptionTooLong) {
		t.Errorf("long description: err = %v, want ErrDescriptionTooLong", err)
	}
	if _, err := p.Enqueue("two\nlines"); !errors.Is(err, ErrInvalidDescription) {
		t.Errorf("multi-line description: err = %v, want ErrInvalidDescription", err)
	}
	if _, err := p.Enqueue(strings.Repeat("a", MaxDescriptionLength)); err != nil {
		t.Errorf("description at limit: %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
}

func TestPool_AssignNext_FirstFit(t *testing.T) {
	p := newTestPool(t, 10, "A", "B", "C")

	got, ok := p.AssignNext()
	if !ok || got.ID != 1 {
		t.Fatalf("AssignNext = %+v, %v; want task 1", got, ok)
	}
	if got.Status != StatusInProgress {
		t.Errorf("Status = %q, want in_progress", got.Status)
	}
	got, _ = p.AssignNext()
	if got.ID != 2 {
		t.Errorf("second AssignNext = %d, want 2", got.ID)
	}
	got, _ = p.AssignNext()
	if got.ID != 3 {
		t.Errorf("third AssignNext = %d, want 3", got.ID)
	}
	if _, ok := p.AssignNext(); ok {
		t.Error("AssignNext on drained pool should report false")
	}
}

func TestPool_AssignNext_ReturnsCopy(t *testing.T) {
	p := newTestPool(t, 10, "A")
	got, _ := p.AssignNext()
	got.Status = StatusPending
	stored, _ := p.Find(1)
	if stored.Status != StatusInProgress {
		t.Errorf("mutating the returned task changed the pool: %q", stored.Status)
	}
}

func TestPool_Requeue(t *testing.T) {
	p := newTestPool(t, 10, "A", "B")

	first, _ := p.AssignNext()
	p.AssignNext()
	if err := p.Requeue(first.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, _ := p.Find(first.ID)
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}

	// Requeued task is next in line again; task 2 is still held.
	next, ok := p.AssignNext()
	if !ok || next.ID != first.ID {
		t.Fatalf("AssignNext after requeue = %d, want %d", next.ID, first.ID)
	}
	if next.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", next.Attempts)
	}
}

func TestPool_Requeue_OrderingPrefersOlderPending(t *testing.T) {
	p := newTestPool(t, 10, "A", "B", "C")
	p.AssignNext() // 1
	p.AssignNext() // 2
	if err := p.Requeue(2); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	// 2 was enqueued before 3, so it wins.
	got, _ := p.AssignNext()
	if got.ID != 2 {
		t.Errorf("AssignNext = %d, want 2", got.ID)
	}
}

func TestPool_Requeue_NotInProgress(t *testing.T) {
	p := newTestPool(t, 10, "A")

	if err := p.Requeue(1); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("requeue pending: err = %v, want ErrNotInProgress", err)
	}
	p.AssignNext()
	if err := p.Complete(1, "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := p.Requeue(1); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("requeue completed: err = %v, want ErrNotInProgress", err)
	}
	got, _ := p.Find(1)
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if err := p.Requeue(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("requeue unknown: err = %v, want ErrNotFound", err)
	}
}

func TestPool_Complete(t *testing.T) {
	p := newTestPool(t, 10, "A")

	if err := p.Complete(1, "early"); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("complete pending: err = %v, want ErrNotInProgress", err)
	}
	if err := p.Complete(7, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("complete unknown: err = %v, want ErrNotFound", err)
	}

	p.AssignNext()
	if err := p.Complete(1, "result text"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ := p.Find(1)
	if got.Status != StatusCompleted || got.Result != "result text" {
		t.Errorf("task = %+v, want completed with result", got)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestPool_ListAndCounts(t *testing.T) {
	p := newTestPool(t, 10, "A", "B", "C")
	p.AssignNext()
	p.AssignNext()
	p.Complete(1, "ok") //nolint:errcheck

	pending := StatusPending
	if got := p.List(&pending); len(got) != 1 || got[0].ID != 3 {
		t.Errorf("List(pending) = %+v, want [3]", got)
	}
	c := p.Counts()
	want := Counts{Pending: 1, InProgress: 1, Completed: 1, Total: 3, Capacity: 10}
	if c != want {
		t.Errorf("Counts = %+v, want %+v", c, want)
	}
}
