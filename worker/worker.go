// Package worker tracks connected workers in a densely packed, resizable
// table whose first slot is always the listening endpoint.
package worker

import "time"

// Status represents what a connected worker is doing.
type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// Info provides read-only metadata about a connected worker.
type Info struct {
	Index       int       `json:"index"`
	Session     string    `json:"session"`
	Addr        string    `json:"addr"`
	Status      Status    `json:"status"`
	CurrentTask int       `json:"current_task,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// TableStats describes the allocation state of a Table.
type TableStats struct {
	Workers  int `json:"workers"`
	Used     int `json:"used"`
	Capacity int `json:"capacity"`
}
