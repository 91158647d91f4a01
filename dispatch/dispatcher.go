// Package dispatch runs the task dispatcher: a single coordinator goroutine
// that owns the task pool and the worker table and serves the line protocol
// to every connected worker.
//
// Connection I/O happens on small per-connection goroutines that only
// forward what they read to the coordinator. All state changes happen on
// the coordinator, one event at a time, so the pool and table need no locks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/dispatch/comms"
	"github.com/GoCodeAlone/dispatch/protocol"
	"github.com/GoCodeAlone/dispatch/task"
	"github.com/GoCodeAlone/dispatch/worker"
)

var (
	// ErrStopped is returned by admin calls once the dispatcher has shut down.
	ErrStopped = errors.New("dispatcher stopped")
	// ErrAlreadyServing is returned when Serve is called twice, or when Seed
	// is called after Serve.
	ErrAlreadyServing = errors.New("dispatcher already serving")
	// ErrListenerClosed is returned by Serve when the listener fails for
	// good while the dispatcher is still running.
	ErrListenerClosed = errors.New("listener closed unexpectedly")
)

// Options tunes a Dispatcher.
type Options struct {
	Table worker.Options
	// MaxLineLength bounds request lines, newline included.
	MaxLineLength int
	// WriteTimeout bounds each response write; zero disables the deadline.
	WriteTimeout time.Duration
	// EventBuffer sizes the channel feeding the coordinator.
	EventBuffer int
}

// Dispatcher hands tasks from a pool to connected workers.
type Dispatcher struct {
	pool   *task.Pool
	opts   Options
	bus    comms.Bus
	logger *slog.Logger

	// table is created by Serve and touched only by the coordinator.
	table *worker.Table

	events  chan event
	done    chan struct{} // closed when the coordinator stops
	serving atomic.Bool
	wg      sync.WaitGroup // accept and read goroutines
}

// New creates a Dispatcher serving tasks from pool. bus may be nil.
func New(pool *task.Pool, opts Options, bus comms.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = protocol.MaxLineLength
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Dispatcher{
		pool:   pool,
		opts:   opts,
		bus:    bus,
		logger: logger,
		events: make(chan event, opts.EventBuffer),
		done:   make(chan struct{}),
	}
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (d *Dispatcher) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve accepts workers on ln and dispatches tasks until ctx is cancelled or
// the listener fails permanently. On return every worker connection and the
// listener are closed. Serve returns nil after cancellation.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	if !d.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	d.table = worker.NewTable(ln, d.opts.Table, d.logger)
	d.logger.Info("dispatcher listening",
		slog.String("addr", ln.Addr().String()),
		slog.Int("tasks", d.pool.Len()))

	d.wg.Add(1)
	go d.acceptLoop(ln)

	err := d.run(ctx)
	d.shutdown(ctx)
	return err
}

// run is the coordinator loop. Each pass blocks for one event, then takes
// every event already queued and handles the batch before blocking again.
func (d *Dispatcher) run(ctx context.Context) error {
	batch := make([]event, 0, cap(d.events))
	for {
		batch = batch[:0]
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.events:
			batch = append(batch, ev)
		}
	drain:
		for len(batch) < cap(batch) {
			select {
			case ev := <-d.events:
				batch = append(batch, ev)
			default:
				break drain
			}
		}

		if d.logger.Enabled(ctx, slog.LevelDebug) {
			d.logger.Debug("dispatch pass",
				slog.Int("ready", len(batch)),
				slog.Int("monitored", len(d.table.Handles())))
		}
		for _, ev := range batch {
			if err := d.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// shutdown stops the coordinator, closes every connection and the listener,
// and waits for the I/O goroutines to exit.
func (d *Dispatcher) shutdown(ctx context.Context) {
	close(d.done)

	// In-flight tasks go back to pending so the pool stays consistent with
	// an empty table.
	for _, w := range d.table.Workers() {
		if w.Status == worker.StatusBusy {
			d.requeue(ctx, w)
		}
	}
	workers := d.table.Len() - 1
	if err := d.table.Close(); err != nil {
		d.logger.Debug("close connections", slog.Any("err", err))
	}
	d.wg.Wait()

	// Connections accepted but never handed to the table.
	for {
		select {
		case ev := <-d.events:
			if ev.kind == evAccepted {
				ev.conn.Close()
			}
			continue
		default:
		}
		break
	}
	d.logger.Info("dispatcher stopped", slog.Int("workers_closed", workers))
}

func (d *Dispatcher) publish(ctx context.Context, ev *comms.Event) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, ev); err != nil {
		d.logger.Warn("publish event", slog.String("type", string(ev.Type)), slog.Any("err", err))
	}
}
