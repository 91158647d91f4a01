package comms

import (
	"context"

	"github.com/GoCodeAlone/dispatch/task"
)

// JournalHandler returns a Handler that appends every event it receives to j.
// It does SQLite I/O, so subscribe it through Async.
func JournalHandler(j task.Journal) Handler {
	return func(_ context.Context, ev *Event) error {
		result := ev.Result
		if result == "" {
			result = ev.Detail
		}
		return j.Record(&task.Entry{
			Kind:        string(ev.Type),
			TaskID:      ev.TaskID,
			Worker:      ev.Worker,
			Description: ev.Description,
			Result:      result,
			RecordedAt:  ev.Timestamp,
		})
	}
}
