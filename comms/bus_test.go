package comms

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func makeEvent(t EventType, taskID int) *Event {
	return &Event{Type: t, TaskID: taskID, Worker: "w-1"}
}

func TestInMemoryBus_Subscribe_Unsubscribe(t *testing.T) {
	bus := NewInMemoryBus(0)
	ctx := context.Background()

	var received int32
	unsub := bus.Subscribe("*", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&received, 1)
		return nil
	})

	if err := bus.Publish(ctx, makeEvent(TypeTaskAssigned, 1)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("received = %d, want 1", received)
	}

	// Unsubscribe and verify no more events
	unsub()
	if err := bus.Publish(ctx, makeEvent(TypeTaskAssigned, 2)); err != nil {
		t.Fatalf("Publish after unsub: %v", err)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("received after unsub = %d, want 1", received)
	}
}

func TestInMemoryBus_PatternRouting(t *testing.T) {
	bus := NewInMemoryBus(0)
	ctx := context.Background()

	var tasks, workers, completed int32
	bus.Subscribe("task.", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&tasks, 1)
		return nil
	})
	bus.Subscribe("worker.", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&workers, 1)
		return nil
	})
	bus.Subscribe(string(TypeTaskCompleted), func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&completed, 1)
		return nil
	})

	for _, ev := range []*Event{
		makeEvent(TypeTaskAssigned, 1),
		makeEvent(TypeTaskCompleted, 1),
		makeEvent(TypeWorkerConnected, 0),
	} {
		if err := bus.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	if tasks != 2 || workers != 1 || completed != 1 {
		t.Errorf("tasks/workers/completed = %d/%d/%d, want 2/1/1", tasks, workers, completed)
	}
}

func TestInMemoryBus_FillsIDAndTimestamp(t *testing.T) {
	bus := NewInMemoryBus(0)
	ev := makeEvent(TypeTaskEnqueued, 3)
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Errorf("event not stamped: %+v", ev)
	}
}

func TestInMemoryBus_HandlerError(t *testing.T) {
	bus := NewInMemoryBus(0)
	var called int32
	bus.Subscribe("*", func(_ context.Context, _ *Event) error { return errors.New("boom") })
	bus.Subscribe("*", func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&called, 1)
		return nil
	})
	if err := bus.Publish(context.Background(), makeEvent(TypeTaskAssigned, 1)); err == nil {
		t.Fatal("expected handler error to surface")
	}
	if called != 1 {
		t.Error("a failing handler must not stop delivery to others")
	}
}

func TestInMemoryBus_History(t *testing.T) {
	bus := NewInMemoryBus(0)
	ctx := context.Background()

	events := []*Event{
		makeEvent(TypeTaskEnqueued, 1),
		makeEvent(TypeWorkerConnected, 0),
		makeEvent(TypeTaskAssigned, 1),
		makeEvent(TypeTaskCompleted, 1),
	}
	for _, ev := range events {
		bus.Publish(ctx, ev) //nolint:errcheck
	}

	hist, err := bus.History("task.", 100)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("History len = %d, want 3", len(hist))
	}
	if hist[0].Type != TypeTaskEnqueued || hist[2].Type != TypeTaskCompleted {
		t.Errorf("history not chronological: %s .. %s", hist[0].Type, hist[2].Type)
	}
}

func TestInMemoryBus_History_LimitAndCap(t *testing.T) {
	bus := NewInMemoryBus(4)
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		bus.Publish(ctx, makeEvent(TypeTaskEnqueued, i)) //nolint:errcheck
	}

	all, _ := bus.History("", 0)
	if len(all) != 4 {
		t.Fatalf("retained %d events, want 4", len(all))
	}
	if all[0].TaskID != 7 {
		t.Errorf("oldest retained = %d, want 7", all[0].TaskID)
	}

	hist, _ := bus.History("*", 2)
	if len(hist) != 2 || hist[1].TaskID != 10 {
		t.Errorf("History limit 2 = %+v", hist)
	}
}

func TestAsync_DeliversOffPublisherGoroutine(t *testing.T) {
	bus := NewInMemoryBus(0)
	got := make(chan *Event, 4)
	a := NewAsync(func(_ context.Context, ev *Event) error {
		got <- ev
		return nil
	}, 4, nil)
	bus.Subscribe("task.", a.Handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx) //nolint:errcheck
		close(done)
	}()

	bus.Publish(ctx, makeEvent(TypeTaskCompleted, 5)) //nolint:errcheck

	select {
	case ev := <-got:
		if ev.TaskID != 5 {
			t.Errorf("TaskID = %d, want 5", ev.TaskID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for async delivery")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAsync_DropsWhenFull(t *testing.T) {
	var delivered int32
	a := NewAsync(func(_ context.Context, _ *Event) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	}, 2, nil)

	for i := 0; i < 5; i++ {
		if err := a.Handle(context.Background(), makeEvent(TypeTaskEnqueued, i)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	// Run with an already-cancelled context only drains the queue.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx) //nolint:errcheck
	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
}
