package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/dispatch/protocol"
)

type eventKind int

const (
	evAccepted eventKind = iota + 1
	evLine
	evClosed
	evListenerFailed
	evCommand
)

// event is the unit of work handed to the coordinator.
type event struct {
	kind      eventKind
	conn      net.Conn // evAccepted
	sess      *session // evLine, evClosed
	line      string   // evLine
	truncated bool     // evLine
	err       error    // evClosed, evListenerFailed
	fn        func()   // evCommand
}

// session is a connected worker. The pointer is the handle stored in the
// worker table, so events find their slot by identity, never by index.
type session struct {
	id   string
	addr string
	conn net.Conn
}

func newSession(conn net.Conn) *session {
	return &session{
		id:   uuid.NewString(),
		addr: conn.RemoteAddr().String(),
		conn: conn,
	}
}

func (s *session) Close() error { return s.conn.Close() }

// send hands ev to the coordinator. It reports false once the coordinator
// has stopped.
func (d *Dispatcher) send(ev event) bool {
	select {
	case d.events <- ev:
		return true
	case <-d.done:
		return false
	}
}

// acceptLoop accepts connections until the listener is closed. Transient
// accept errors are retried with backoff.
func (d *Dispatcher) acceptLoop(ln net.Listener) {
	defer d.wg.Done()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-d.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				d.send(event{kind: evListenerFailed, err: err})
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if limit := time.Second; delay > limit {
				delay = limit
			}
			d.logger.Warn("accept failed, retrying",
				slog.Any("err", err), slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-d.done:
				return
			}
			continue
		}
		delay = 0
		if !d.send(event{kind: evAccepted, conn: conn}) {
			conn.Close()
			return
		}
	}
}

// readLoop forwards every line read from s to the coordinator and finally
// reports the read error that ended the connection.
func (d *Dispatcher) readLoop(s *session) {
	defer d.wg.Done()

	r := protocol.NewReader(s.conn, d.opts.MaxLineLength)
	for {
		line, err := r.ReadLine()
		if err != nil && !errors.Is(err, protocol.ErrLineTooLong) {
			d.send(event{kind: evClosed, sess: s, err: err})
			return
		}
		if !d.send(event{kind: evLine, sess: s, line: line, truncated: err != nil}) {
			return
		}
	}
}

// do runs fn on the coordinator and waits for it to finish.
func (d *Dispatcher) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ev := event{kind: evCommand, fn: func() {
		fn()
		close(finished)
	}}
	select {
	case d.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}
