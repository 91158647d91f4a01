package comms

import (
	"context"
	"io"
	"log/slog"
)

// Async decouples a slow consumer from the publisher: Handle queues events
// without blocking and Run feeds them to the wrapped handler on its own
// goroutine. Events arriving while the queue is full are dropped.
type Async struct {
	queue   chan *Event
	handler Handler
	logger  *slog.Logger
}

// NewAsync wraps handler with a queue of the given size.
func NewAsync(handler Handler, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Async{queue: make(chan *Event, size), handler: handler, logger: logger}
}

// Handle queues ev. It satisfies Handler and never blocks.
func (a *Async) Handle(_ context.Context, ev *Event) error {
	select {
	case a.queue <- ev:
	default:
		a.logger.Warn("event queue full, event dropped",
			slog.String("type", string(ev.Type)), slog.String("event_id", ev.ID))
	}
	return nil
}

// Run delivers queued events until ctx is done, then drains what is left.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-a.queue:
			a.deliver(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-a.queue:
					a.deliver(context.WithoutCancel(ctx), ev)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Async) deliver(ctx context.Context, ev *Event) {
	if err := a.handler(ctx, ev); err != nil {
		a.logger.Error("event handler failed",
			slog.String("type", string(ev.Type)), slog.Any("err", err))
	}
}
