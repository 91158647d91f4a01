package task

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS task_journal (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	task_id     INTEGER NOT NULL DEFAULT 0,
	worker      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	result      TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS task_journal_task ON task_journal (task_id);
`

// Entry is one line of the task journal.
type Entry struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	TaskID      int       `json:"task_id,omitempty"`
	Worker      string    `json:"worker,omitempty"`
	Description string    `json:"description,omitempty"`
	Result      string    `json:"result,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// EntryFilter controls which entries List returns.
type EntryFilter struct {
	Kind   string `json:"kind,omitempty"`
	TaskID int    `json:"task_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Journal records task lifecycle entries for later inspection. It is an
// audit trail only: the pool is never rebuilt from it.
type Journal interface {
	// Record appends an entry, filling in ID and RecordedAt when empty.
	Record(e *Entry) error

	// List returns entries matching the filter, oldest first.
	List(filter EntryFilter) ([]*Entry, error)

	Close() error
}

// SQLiteJournal appends journal entries to a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath and ensures
// the journal table exists. The caller is responsible for calling Close.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Close releases the underlying database connection.
func (j *SQLiteJournal) Close() error { return j.db.Close() }

// Record appends e to the journal.
func (j *SQLiteJournal) Record(e *Entry) error {
	if e.Kind == "" {
		return fmt.Errorf("journal entry without kind")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	_, err := j.db.Exec(`
		INSERT INTO task_journal (id, kind, task_id, worker, description, result, recorded_at)
		VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.Kind, e.TaskID, e.Worker, e.Description, e.Result, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter in the order they were recorded.
func (j *SQLiteJournal) List(filter EntryFilter) ([]*Entry, error) {
	q := strings.Builder{}
	q.WriteString("SELECT id, kind, task_id, worker, description, result, recorded_at FROM task_journal WHERE 1=1")
	args := []any{}

	if filter.Kind != "" {
		q.WriteString(" AND kind=?")
		args = append(args, filter.Kind)
	}
	if filter.TaskID > 0 {
		q.WriteString(" AND task_id=?")
		args = append(args, filter.TaskID)
	}
	q.WriteString(" ORDER BY recorded_at ASC, rowid ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	}

	rows, err := j.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.TaskID, &e.Worker, &e.Description, &e.Result, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
