package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/dispatch/comms"
	"github.com/GoCodeAlone/dispatch/protocol"
	"github.com/GoCodeAlone/dispatch/worker"
)

// handle applies one event. Only listener failure is returned; everything
// else is scoped to a single connection and handled here.
func (d *Dispatcher) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case evAccepted:
		d.accept(ctx, ev)
	case evLine:
		d.serveLine(ctx, ev.sess, ev.line, ev.truncated)
	case evClosed:
		d.disconnect(ctx, ev.sess, ev.err)
	case evCommand:
		ev.fn()
	case evListenerFailed:
		d.logger.Error("listener failed", slog.Any("err", ev.err))
		return fmt.Errorf("%w: %v", ErrListenerClosed, ev.err)
	}
	return nil
}

func (d *Dispatcher) accept(ctx context.Context, ev event) {
	s := newSession(ev.conn)
	if _, err := d.table.Add(s, s.id, s.addr); err != nil {
		d.logger.Warn("worker refused",
			slog.String("worker", s.id), slog.String("addr", s.addr), slog.Any("err", err))
		s.Close()
		d.publish(ctx, &comms.Event{Type: comms.TypeWorkerRefused, Worker: s.id, Addr: s.addr, Detail: err.Error()})
		return
	}
	d.logger.Info("worker connected",
		slog.String("worker", s.id), slog.String("addr", s.addr), slog.Int("workers", d.table.Len()-1))
	d.publish(ctx, &comms.Event{Type: comms.TypeWorkerConnected, Worker: s.id, Addr: s.addr})

	d.wg.Add(1)
	go d.readLoop(s)
}

// disconnect requeues the worker's in-flight task, if any, and drops it
// from the table. Sessions already removed are ignored.
func (d *Dispatcher) disconnect(ctx context.Context, s *session, cause error) {
	idx, ok := d.table.IndexOf(s)
	if !ok {
		return
	}
	w, err := d.table.Worker(idx)
	if err != nil {
		d.logger.Error("worker lookup", slog.String("worker", s.id), slog.Any("err", err))
		return
	}
	if w.Status == worker.StatusBusy {
		d.requeue(ctx, w)
	}
	if _, err := d.table.Remove(idx); err != nil {
		d.logger.Error("remove worker", slog.String("worker", s.id), slog.Any("err", err))
	}
	s.Close()

	attrs := []any{slog.String("worker", s.id), slog.Int("workers", d.table.Len()-1)}
	if cause != nil && !isEOF(cause) {
		attrs = append(attrs, slog.Any("err", cause))
	}
	d.logger.Info("worker disconnected", attrs...)
	d.publish(ctx, &comms.Event{Type: comms.TypeWorkerDisconnected, Worker: s.id, Addr: s.addr})
}

func (d *Dispatcher) requeue(ctx context.Context, w worker.Info) {
	if err := d.pool.Requeue(w.CurrentTask); err != nil {
		d.logger.Warn("requeue after disconnect",
			slog.String("worker", w.Session), slog.Int("task_id", w.CurrentTask), slog.Any("err", err))
		return
	}
	d.logger.Info("task requeued after worker loss",
		slog.String("worker", w.Session), slog.Int("task_id", w.CurrentTask))
	d.publish(ctx, &comms.Event{Type: comms.TypeTaskRequeued, TaskID: w.CurrentTask, Worker: w.Session})
}

func (d *Dispatcher) serveLine(ctx context.Context, s *session, line string, truncated bool) {
	idx, ok := d.table.IndexOf(s)
	if !ok {
		return
	}
	if truncated {
		d.logger.Warn("request line truncated",
			slog.String("worker", s.id), slog.Int("limit", d.opts.MaxLineLength))
	}
	resp := d.respond(ctx, idx, s, line)
	if err := d.write(s, resp); err != nil {
		d.logger.Warn("write response", slog.String("worker", s.id), slog.Any("err", err))
		d.disconnect(ctx, s, err)
	}
}

// respond decodes one request and applies it. Every request yields exactly
// one response line.
func (d *Dispatcher) respond(ctx context.Context, idx int, s *session, line string) protocol.Response {
	req, err := protocol.ParseRequest(line)
	if err != nil {
		d.logger.Warn("bad request", slog.String("worker", s.id), slog.Any("err", err))
		if errors.Is(err, protocol.ErrInvalidResult) {
			return protocol.ErrorInvalidResult
		}
		return protocol.ErrorUnknownCommand
	}

	w, err := d.table.Worker(idx)
	if err != nil {
		d.logger.Error("worker lookup", slog.String("worker", s.id), slog.Any("err", err))
		return protocol.ErrorUnknownCommand
	}

	switch req.Command {
	case protocol.CmdGetTask:
		return d.assign(ctx, idx, w)
	case protocol.CmdResult:
		return d.complete(ctx, idx, w, req)
	}
	return protocol.ErrorUnknownCommand
}

func (d *Dispatcher) assign(ctx context.Context, idx int, w worker.Info) protocol.Response {
	if w.Status == worker.StatusBusy {
		d.logger.Info("task request from busy worker",
			slog.String("worker", w.Session), slog.Int("task_id", w.CurrentTask))
		return protocol.ErrorAlreadyBusy
	}
	t, ok := d.pool.AssignNext()
	if !ok {
		d.logger.Debug("no task for worker", slog.String("worker", w.Session))
		return protocol.NoTask
	}
	if err := d.table.MarkBusy(idx, t.ID); err != nil {
		// The worker was verified idle above; undo the pool side.
		d.logger.Error("mark worker busy", slog.String("worker", w.Session), slog.Any("err", err))
		d.pool.Requeue(t.ID) //nolint:errcheck
		return protocol.ErrorAlreadyBusy
	}
	d.logger.Info("task assigned",
		slog.Int("task_id", t.ID), slog.String("worker", w.Session))
	d.publish(ctx, &comms.Event{
		Type:        comms.TypeTaskAssigned,
		TaskID:      t.ID,
		Worker:      w.Session,
		Description: t.Description,
	})
	return protocol.Assignment(t.ID, t.Description)
}

func (d *Dispatcher) complete(ctx context.Context, idx int, w worker.Info, req protocol.Request) protocol.Response {
	if w.Status != worker.StatusBusy || w.CurrentTask != req.TaskID {
		d.logger.Warn("result rejected",
			slog.String("worker", w.Session),
			slog.Int("task_id", req.TaskID),
			slog.Int("holding", w.CurrentTask))
		return protocol.ErrorNotBusy
	}
	if _, err := d.table.MarkIdle(idx); err != nil {
		d.logger.Error("mark worker idle", slog.String("worker", w.Session), slog.Any("err", err))
	}
	if err := d.pool.Complete(req.TaskID, req.Result); err != nil {
		d.logger.Warn("complete task", slog.Int("task_id", req.TaskID), slog.Any("err", err))
	}
	d.logger.Info("result received",
		slog.Int("task_id", req.TaskID), slog.String("worker", w.Session))
	d.publish(ctx, &comms.Event{
		Type:   comms.TypeTaskCompleted,
		TaskID: req.TaskID,
		Worker: w.Session,
		Result: req.Result,
	})
	return protocol.ResultReceived
}

func (d *Dispatcher) write(s *session, resp protocol.Response) error {
	if d.opts.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(d.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return protocol.WriteLine(s.conn, string(resp))
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
