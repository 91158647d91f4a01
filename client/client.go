// Package client implements a dispatcher worker: it connects to the server,
// asks for tasks, executes them and reports results until the server goes
// away or the context is cancelled.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/dispatch/protocol"
)

// DefaultPollInterval is how long a worker waits after NO_TASK or an error
// response before asking again.
const DefaultPollInterval = 3 * time.Second

// ErrServerClosed is returned by Run when the server ends the connection.
var ErrServerClosed = errors.New("server closed the connection")

// Options configures a Worker.
type Options struct {
	Executor     Executor // defaults to DefaultExecutor{}
	PollInterval time.Duration
	DialTimeout  time.Duration
	Logger       *slog.Logger
}

// Worker runs the request/execute/report loop against one server.
type Worker struct {
	addr   string
	opts   Options
	logger *slog.Logger

	completed atomic.Int64
}

// New creates a Worker for the server at addr.
func New(addr string, opts Options) *Worker {
	if opts.Executor == nil {
		opts.Executor = DefaultExecutor{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Worker{addr: addr, opts: opts, logger: logger}
}

// Completed returns the number of results the server has acknowledged.
func (w *Worker) Completed() int { return int(w.completed.Load()) }

// Run connects and works until ctx is cancelled, which returns nil, or the
// connection ends, which returns ErrServerClosed or the I/O error.
func (w *Worker) Run(ctx context.Context) error {
	d := net.Dialer{Timeout: w.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", w.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w.logger.Info("connected to dispatcher", slog.String("addr", w.addr))
	err = w.loop(ctx, conn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, conn net.Conn) error {
	r := protocol.NewReader(conn, protocol.MaxLineLength)
	for {
		reply, err := w.roundTrip(conn, r, protocol.EncodeGetTask())
		if err != nil {
			return err
		}

		switch reply.Kind {
		case protocol.ReplyTask:
			if err := w.work(ctx, conn, r, reply); err != nil {
				return err
			}
			continue
		case protocol.ReplyNoTask:
			w.logger.Debug("no task available", slog.Duration("retry_in", w.opts.PollInterval))
		case protocol.ReplyError:
			w.logger.Warn("server error", slog.String("detail", reply.Detail))
		default:
			w.logger.Warn("unexpected reply to GET_TASK", slog.String("detail", reply.Detail))
		}
		if !w.sleep(ctx) {
			return nil
		}
	}
}

func (w *Worker) work(ctx context.Context, conn net.Conn, r *protocol.Reader, task protocol.Reply) error {
	w.logger.Info("executing task", slog.Int("task_id", task.TaskID), slog.String("description", task.Description))
	result, err := w.opts.Executor.Execute(ctx, task.TaskID, task.Description)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result = "ERROR: " + err.Error()
	}

	reply, err := w.roundTrip(conn, r, protocol.EncodeResult(task.TaskID, SanitizeResult(task.TaskID, result)))
	if err != nil {
		return err
	}
	switch reply.Kind {
	case protocol.ReplyOK:
		w.completed.Add(1)
		w.logger.Info("result accepted", slog.Int("task_id", task.TaskID))
	case protocol.ReplyError:
		w.logger.Warn("result rejected", slog.Int("task_id", task.TaskID), slog.String("detail", reply.Detail))
		if !w.sleep(ctx) {
			return ctx.Err()
		}
	default:
		w.logger.Warn("unexpected reply to RESULT", slog.Int("task_id", task.TaskID))
	}
	return nil
}

func (w *Worker) roundTrip(conn net.Conn, r *protocol.Reader, line string) (protocol.Reply, error) {
	if err := protocol.WriteLine(conn, line); err != nil {
		return protocol.Reply{}, fmt.Errorf("send: %w", err)
	}
	for {
		resp, err := r.ReadLine()
		if errors.Is(err, io.EOF) {
			return protocol.Reply{}, ErrServerClosed
		}
		if err != nil && !errors.Is(err, protocol.ErrLineTooLong) {
			return protocol.Reply{}, fmt.Errorf("receive: %w", err)
		}
		reply, err := protocol.ParseResponse(resp)
		if err != nil {
			// Unknown responses are ignored.
			w.logger.Warn("ignoring unparsable response", slog.String("line", resp))
			continue
		}
		return reply, nil
	}
}

// sleep waits one poll interval. It reports false if ctx ended first.
func (w *Worker) sleep(ctx context.Context) bool {
	t := time.NewTimer(w.opts.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// SanitizeResult makes text fit a single RESULT line for task id: line
// breaks become spaces, the text is cut to the line limit, and an empty
// result is replaced by a placeholder.
func SanitizeResult(id int, text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, text)
	limit := protocol.MaxLineLength - 1 - len(protocol.EncodeResult(id, ""))
	if len(text) > limit {
		text = strings.ToValidUTF8(text[:limit], "")
	}
	if strings.TrimSpace(text) == "" {
		return "(no output)"
	}
	return text
}
