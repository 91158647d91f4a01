// Package api defines the admin REST handlers and the dispatcher interface
// they depend on.
package api

import (
	"context"

	"github.com/GoCodeAlone/dispatch/dispatch"
	"github.com/GoCodeAlone/dispatch/task"
)

// Dispatcher is the interface the API uses to inspect and feed the
// dispatcher. Implemented by *dispatch.Dispatcher.
type Dispatcher interface {
	Enqueue(ctx context.Context, description string) (int, error)
	Task(ctx context.Context, id int) (task.Task, error)
	Snapshot(ctx context.Context, status *task.Status) (dispatch.Snapshot, error)
}

var _ Dispatcher = (*dispatch.Dispatcher)(nil)
