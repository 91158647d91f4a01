package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/dispatch/comms"
	"github.com/GoCodeAlone/dispatch/task"
	"github.com/GoCodeAlone/dispatch/worker"
)

// Snapshot is a consistent view of the dispatcher's state.
type Snapshot struct {
	Counts  task.Counts       `json:"counts"`
	Table   worker.TableStats `json:"table"`
	Tasks   []task.Task       `json:"tasks,omitempty"`
	Workers []worker.Info     `json:"workers,omitempty"`
}

// Seed enqueues the initial tasks. It must be called before Serve.
// Descriptions the pool rejects are logged and skipped; the number of
// accepted tasks is returned.
func (d *Dispatcher) Seed(ctx context.Context, descriptions []string) (int, error) {
	if d.serving.Load() {
		return 0, ErrAlreadyServing
	}
	n := 0
	for _, desc := range descriptions {
		if _, err := d.enqueue(ctx, desc); err != nil {
			continue
		}
		n++
	}
	d.logger.Info("seed tasks enqueued", slog.Int("accepted", n), slog.Int("given", len(descriptions)))
	return n, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, description string) (int, error) {
	id, err := d.pool.Enqueue(description)
	if err != nil {
		d.publish(ctx, &comms.Event{Type: comms.TypeTaskRejected, Description: description, Detail: err.Error()})
		return 0, err
	}
	d.publish(ctx, &comms.Event{Type: comms.TypeTaskEnqueued, TaskID: id, Description: description})
	return id, nil
}

// Enqueue adds a task through the coordinator while the dispatcher is
// serving.
func (d *Dispatcher) Enqueue(ctx context.Context, description string) (int, error) {
	var (
		id  int
		err error
	)
	if derr := d.do(ctx, func() { id, err = d.enqueue(ctx, description) }); derr != nil {
		return 0, derr
	}
	return id, err
}

// Task returns a copy of one task.
func (d *Dispatcher) Task(ctx context.Context, id int) (task.Task, error) {
	var (
		t  task.Task
		ok bool
	)
	if err := d.do(ctx, func() { t, ok = d.pool.Find(id) }); err != nil {
		return task.Task{}, err
	}
	if !ok {
		return task.Task{}, fmt.Errorf("task %d: %w", id, task.ErrNotFound)
	}
	return t, nil
}

// Snapshot returns the pool and table state. status, when non-nil, limits
// the tasks included.
func (d *Dispatcher) Snapshot(ctx context.Context, status *task.Status) (Snapshot, error) {
	var snap Snapshot
	err := d.do(ctx, func() {
		snap = Snapshot{
			Counts:  d.pool.Counts(),
			Table:   d.table.Stats(),
			Tasks:   d.pool.List(status),
			Workers: d.table.Workers(),
		}
	})
	return snap, err
}
