package worker

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ListenerSlot is the table index permanently held by the listening endpoint.
const ListenerSlot = 0

const (
	DefaultInitialCapacity = 5
	DefaultIncrement       = 5
)

var (
	// ErrCapacity is returned by Add when the table cannot grow.
	ErrCapacity = errors.New("worker table at capacity")
	// ErrInvalidIndex is returned for indexes outside the used worker slots.
	ErrInvalidIndex = errors.New("invalid worker slot")
)

// Options sizes a Table.
type Options struct {
	// InitialCapacity is both the starting allocation and the shrink floor.
	InitialCapacity int
	// Increment is the number of slots added or released per resize.
	Increment int
	// MaxCapacity caps growth; zero means unbounded.
	MaxCapacity int
}

func (o Options) withDefaults() Options {
	if o.InitialCapacity <= 0 {
		o.InitialCapacity = DefaultInitialCapacity
	}
	if o.Increment <= 0 {
		o.Increment = DefaultIncrement
	}
	if o.MaxCapacity > 0 && o.MaxCapacity < o.InitialCapacity {
		o.MaxCapacity = o.InitialCapacity
	}
	return o
}

type slot struct {
	handle      io.Closer
	session     string
	addr        string
	status      Status
	taskID      int
	connectedAt time.Time
}

// Table is the connection table. Slots [0, Len()) are in use with no gaps;
// slot 0 holds the listener. Removal compacts by moving the last entry into
// the freed slot.
//
// A Table is not safe for concurrent use.
type Table struct {
	slots  []slot // len(slots) is the allocated capacity
	count  int
	opts   Options
	logger *slog.Logger
}

// NewTable allocates a table with the listener in ListenerSlot.
func NewTable(listener io.Closer, opts Options, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts = opts.withDefaults()
	t := &Table{
		slots:  make([]slot, opts.InitialCapacity),
		opts:   opts,
		logger: logger,
	}
	t.slots[ListenerSlot] = slot{handle: listener, connectedAt: time.Now().UTC()}
	t.count = 1
	return t
}

// Len returns the number of used slots, listener included.
func (t *Table) Len() int { return t.count }

// Cap returns the number of allocated slots.
func (t *Table) Cap() int { return len(t.slots) }

// Stats returns the current allocation state.
func (t *Table) Stats() TableStats {
	return TableStats{Workers: t.count - 1, Used: t.count, Capacity: len(t.slots)}
}

// Add appends a worker connection in the idle state and returns its index.
// When the table is full it grows by one increment; if that is not allowed
// ErrCapacity is returned and the caller must close h.
func (t *Table) Add(h io.Closer, session, addr string) (int, error) {
	if t.count == len(t.slots) {
		if err := t.grow(); err != nil {
			return -1, err
		}
	}
	idx := t.count
	t.slots[idx] = slot{
		handle:      h,
		session:     session,
		addr:        addr,
		status:      StatusIdle,
		taskID:      0,
		connectedAt: time.Now().UTC(),
	}
	t.count++
	return idx, nil
}

func (t *Table) grow() error {
	old := len(t.slots)
	newCap := old + t.opts.Increment
	if t.opts.MaxCapacity > 0 && newCap > t.opts.MaxCapacity {
		newCap = t.opts.MaxCapacity
	}
	if newCap <= old {
		t.logger.Warn("worker table full", slog.Int("capacity", old))
		return fmt.Errorf("%w (%d slots)", ErrCapacity, old)
	}
	t.resize(newCap)
	t.logger.Info("worker table grown", slog.Int("from", old), slog.Int("to", newCap))
	return nil
}

func (t *Table) resize(capacity int) {
	slots := make([]slot, capacity)
	copy(slots, t.slots[:t.count])
	t.slots = slots
}

// Remove frees the worker slot at index. If index was not the last used
// slot, the last entry is moved into it and Remove reports true: the caller
// must treat index as holding a different connection from now on. The
// handle is not closed.
func (t *Table) Remove(index int) (reseated bool, err error) {
	if err := t.checkIndex(index); err != nil {
		return false, err
	}
	last := t.count - 1
	if index != last {
		t.slots[index] = t.slots[last]
		reseated = true
	}
	t.slots[last] = slot{}
	t.count--
	t.maybeShrink()
	return reseated, nil
}

func (t *Table) maybeShrink() {
	capacity := len(t.slots)
	if t.count >= capacity-t.opts.Increment || capacity <= t.opts.InitialCapacity {
		return
	}
	newCap := capacity - t.opts.Increment
	if newCap < t.opts.InitialCapacity {
		newCap = t.opts.InitialCapacity
	}
	t.resize(newCap)
	t.logger.Info("worker table shrunk", slog.Int("from", capacity), slog.Int("to", newCap))
}

func (t *Table) checkIndex(index int) error {
	if index <= ListenerSlot || index >= t.count {
		return fmt.Errorf("%w: %d (used %d)", ErrInvalidIndex, index, t.count)
	}
	return nil
}

// IndexOf returns the slot currently holding h.
func (t *Table) IndexOf(h io.Closer) (int, bool) {
	for i := ListenerSlot + 1; i < t.count; i++ {
		if t.slots[i].handle == h {
			return i, true
		}
	}
	return -1, false
}

// Handle returns the handle stored at index, including the listener.
func (t *Table) Handle(index int) (io.Closer, bool) {
	if index < 0 || index >= t.count {
		return nil, false
	}
	return t.slots[index].handle, true
}

// Handles returns the readiness set: the listener followed by every worker
// handle in slot order.
func (t *Table) Handles() []io.Closer {
	out := make([]io.Closer, t.count)
	for i := 0; i < t.count; i++ {
		out[i] = t.slots[i].handle
	}
	return out
}

// Worker returns metadata for the worker at index.
func (t *Table) Worker(index int) (Info, error) {
	if err := t.checkIndex(index); err != nil {
		return Info{}, err
	}
	return t.info(index), nil
}

func (t *Table) info(i int) Info {
	s := t.slots[i]
	return Info{
		Index:       i,
		Session:     s.session,
		Addr:        s.addr,
		Status:      s.status,
		CurrentTask: s.taskID,
		ConnectedAt: s.connectedAt,
	}
}

// Workers returns metadata for all connected workers in slot order.
func (t *Table) Workers() []Info {
	out := make([]Info, 0, t.count-1)
	for i := ListenerSlot + 1; i < t.count; i++ {
		out = append(out, t.info(i))
	}
	return out
}

// MarkBusy records that the idle worker at index now holds taskID.
func (t *Table) MarkBusy(index, taskID int) error {
	if err := t.checkIndex(index); err != nil {
		return err
	}
	s := &t.slots[index]
	if s.status == StatusBusy {
		return fmt.Errorf("worker %s already busy with task %d", s.session, s.taskID)
	}
	if taskID <= 0 {
		return fmt.Errorf("worker %s: invalid task id %d", s.session, taskID)
	}
	s.status = StatusBusy
	s.taskID = taskID
	return nil
}

// MarkIdle clears the worker's assignment and returns the task it held.
func (t *Table) MarkIdle(index int) (int, error) {
	if err := t.checkIndex(index); err != nil {
		return 0, err
	}
	s := &t.slots[index]
	prev := s.taskID
	s.status = StatusIdle
	s.taskID = 0
	return prev, nil
}

// Holder returns the index of the busy worker holding taskID.
func (t *Table) Holder(taskID int) (int, bool) {
	for i := ListenerSlot + 1; i < t.count; i++ {
		if t.slots[i].status == StatusBusy && t.slots[i].taskID == taskID {
			return i, true
		}
	}
	return -1, false
}

// Close closes every worker handle and then the listener, and releases the
// table's storage. The returned error joins every close failure.
func (t *Table) Close() error {
	var errs []error
	for i := t.count - 1; i > ListenerSlot; i-- {
		if h := t.slots[i].handle; h != nil {
			if err := h.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close worker %s: %w", t.slots[i].session, err))
			}
		}
	}
	if t.count > 0 {
		if h := t.slots[ListenerSlot].handle; h != nil {
			if err := h.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close listener: %w", err))
			}
		}
	}
	t.slots = nil
	t.count = 0
	return errors.Join(errs...)
}
