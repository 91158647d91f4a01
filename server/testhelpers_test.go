package server

import (
	"context"
	"sync"

	"github.com/GoCodeAlone/dispatch/dispatch"
	"github.com/GoCodeAlone/dispatch/task"
)

// poolDispatcher satisfies api.Dispatcher for tests with a locked pool.
type poolDispatcher struct {
	mu   sync.Mutex
	pool *task.Pool
}

func newPoolDispatcher() *poolDispatcher {
	return &poolDispatcher{pool: task.NewPool(0, nil)}
}

func (p *poolDispatcher) Enqueue(_ context.Context, description string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Enqueue(description)
}

func (p *poolDispatcher) Task(_ context.Context, id int) (task.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.pool.Find(id)
	if !ok {
		return task.Task{}, task.ErrNotFound
	}
	return t, nil
}

func (p *poolDispatcher) Snapshot(_ context.Context, status *task.Status) (dispatch.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dispatch.Snapshot{Counts: p.pool.Counts(), Tasks: p.pool.List(status)}, nil
}
