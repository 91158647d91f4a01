package task

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Pool holds a bounded, insertion-ordered set of tasks. Order never changes
// after insertion; only statuses do.
//
// A Pool is not safe for concurrent use. The dispatcher owns it and is the
// only goroutine that touches it.
type Pool struct {
	tasks    []*Task
	maxTasks int
	nextID   int
	logger   *slog.Logger
}

// NewPool creates an empty pool that accepts at most maxTasks tasks.
// A non-positive maxTasks selects DefaultMaxTasks.
func NewPool(maxTasks int, logger *slog.Logger) *Pool {
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasks
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pool{
		tasks:    make([]*Task, 0, maxTasks),
		maxTasks: maxTasks,
		nextID:   1,
		logger:   logger,
	}
}

// ValidateDescription checks that description can travel in a TASK line.
func ValidateDescription(description string) error {
	if len(description) > MaxDescriptionLength {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrDescriptionTooLong, len(description), MaxDescriptionLength)
	}
	if strings.ContainsAny(description, "\r\n") {
		return ErrInvalidDescription
	}
	return nil
}

// Enqueue appends a pending task and returns its id. Once the pool holds
// maxTasks tasks every further call fails with ErrPoolFull and leaves the
// pool untouched.
func (p *Pool) Enqueue(description string) (int, error) {
	if err := ValidateDescription(description); err != nil {
		p.logger.Warn("task rejected", slog.String("description", description), slog.Any("err", err))
		return 0, err
	}
	if len(p.tasks) >= p.maxTasks {
		p.logger.Warn("task pool full, task rejected",
			slog.Int("max_tasks", p.maxTasks),
			slog.String("description", description))
		return 0, fmt.Errorf("%w (%d tasks)", ErrPoolFull, p.maxTasks)
	}

	now := time.Now().UTC()
	t := &Task{
		ID:          p.nextID,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.nextID++
	p.tasks = append(p.tasks, t)
	p.logger.Info("task enqueued", slog.Int("task_id", t.ID), slog.String("description", description))
	return t.ID, nil
}

// AssignNext flips the oldest pending task to in_progress and returns a copy
// of it. It reports false when nothing is pending.
func (p *Pool) AssignNext() (Task, bool) {
	for _, t := range p.tasks {
		if t.Status != StatusPending {
			continue
		}
		now := time.Now().UTC()
		t.Status = StatusInProgress
		t.Attempts++
		t.StartedAt = &now
		t.UpdatedAt = now
		p.logger.Info("task assigned", slog.Int("task_id", t.ID), slog.Int("attempt", t.Attempts))
		return *t, true
	}
	return Task{}, false
}

// Find returns a copy of the task with the given id.
func (p *Pool) Find(id int) (Task, bool) {
	t := p.find(id)
	if t == nil {
		return Task{}, false
	}
	return *t, true
}

func (p *Pool) find(id int) *Task {
	for _, t := range p.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Complete records result and marks the task completed. The caller is
// responsible for checking that the reporting worker owns the task.
func (p *Pool) Complete(id int, result string) error {
	t := p.find(id)
	if t == nil {
		return fmt.Errorf("complete %d: %w", id, ErrNotFound)
	}
	if t.Status != StatusInProgress {
		return fmt.Errorf("complete %d (status %s): %w", id, t.Status, ErrNotInProgress)
	}
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.Result = result
	t.CompletedAt = &now
	t.UpdatedAt = now
	p.logger.Info("task completed", slog.Int("task_id", id))
	return nil
}

// Requeue returns an in_progress task to pending. Tasks in any other state
// are left alone and ErrNotInProgress is returned.
func (p *Pool) Requeue(id int) error {
	t := p.find(id)
	if t == nil {
		p.logger.Error("requeue of unknown task", slog.Int("task_id", id))
		return fmt.Errorf("requeue %d: %w", id, ErrNotFound)
	}
	if t.Status != StatusInProgress {
		p.logger.Warn("requeue skipped, task not in progress",
			slog.Int("task_id", id), slog.String("status", string(t.Status)))
		return fmt.Errorf("requeue %d (status %s): %w", id, t.Status, ErrNotInProgress)
	}
	t.Status = StatusPending
	t.StartedAt = nil
	t.UpdatedAt = time.Now().UTC()
	p.logger.Info("task requeued", slog.Int("task_id", id))
	return nil
}

// List returns copies of all tasks in pool order, optionally restricted to
// one status.
func (p *Pool) List(status *Status) []Task {
	out := make([]Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// Counts tallies the pool by status.
func (p *Pool) Counts() Counts {
	c := Counts{Total: len(p.tasks), Capacity: p.maxTasks}
	for _, t := range p.tasks {
		switch t.Status {
		case StatusPending:
			c.Pending++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}

// Len returns the number of tasks ever enqueued.
func (p *Pool) Len() int { return len(p.tasks) }

// Cap returns the maximum number of tasks the pool accepts.
func (p *Pool) Cap() int { return p.maxTasks }
