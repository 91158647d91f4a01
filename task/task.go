// Package task defines the task model, the bounded in-memory pool that
// dispatches tasks, and an optional SQLite journal of their lifecycle.
package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	// StatusFailed is reserved. No transition in the dispatcher produces it.
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

const (
	// DefaultMaxTasks is the number of tasks a pool accepts over its lifetime.
	DefaultMaxTasks = 100

	// MaxDescriptionLength bounds a description in bytes so that a TASK
	// line always fits the wire line limit.
	MaxDescriptionLength = 255

	// NoTask is the id carried by an idle worker.
	NoTask = 0
)

var (
	ErrPoolFull           = errors.New("task pool full")
	ErrNotFound           = errors.New("task not found")
	ErrNotInProgress      = errors.New("task not in progress")
	ErrDescriptionTooLong = errors.New("task description too long")
	ErrInvalidDescription = errors.New("task description contains a line break")
)

// Task is a unit of work handed to one worker at a time.
type Task struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Counts tallies pool contents by status.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
	Capacity   int `json:"capacity"`
}
