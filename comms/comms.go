// Package comms provides the in-process event bus the dispatcher uses to
// announce task and worker lifecycle changes.
package comms

import (
	"context"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	TypeTaskEnqueued       EventType = "task.enqueued"
	TypeTaskRejected       EventType = "task.rejected"
	TypeTaskAssigned       EventType = "task.assigned"
	TypeTaskCompleted      EventType = "task.completed"
	TypeTaskRequeued       EventType = "task.requeued"
	TypeWorkerConnected    EventType = "worker.connected"
	TypeWorkerDisconnected EventType = "worker.disconnected"
	TypeWorkerRefused      EventType = "worker.refused"
)

// Event is a single lifecycle notification.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	TaskID      int       `json:"task_id,omitempty"`
	Worker      string    `json:"worker,omitempty"` // worker session id
	Addr        string    `json:"addr,omitempty"`
	Description string    `json:"description,omitempty"`
	Result      string    `json:"result,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Handler processes a published event. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(ctx context.Context, ev *Event) error

// Bus fans events out to subscribers and keeps a bounded history.
type Bus interface {
	// Publish delivers ev to every subscriber whose pattern matches its type.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers handler for events matching pattern: "" or "*"
	// matches everything, a value ending in "." matches a type prefix
	// ("task."), anything else must equal the event type.
	// Returns an unsubscribe function.
	Subscribe(pattern string, handler Handler) (unsubscribe func())

	// History returns up to limit recent events matching pattern, oldest first.
	History(pattern string, limit int) ([]*Event, error)
}
