package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/events"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
)

type recordingDeliverer struct {
	mu     sync.Mutex
	got    []events.Event
	notify chan struct{}
}

func (d *recordingDeliverer) Deliver(ctx context.Context, event events.Event) error {
	d.mu.Lock()
	d.got = append(d.got, event)
	d.mu.Unlock()
	if d.notify != nil {
		d.notify <- struct{}{}
	}
	return nil
}

func (d *recordingDeliverer) delivered() []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]events.Event(nil), d.got...)
}

func TestNotificationWorkerDeliversInOrder(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	target := &recordingDeliverer{notify: make(chan struct{}, 4)}
	w := NewNotificationWorker(target, 4, zap.NewNop(), observability.NewMetrics())
	w.Subscribe(dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	ticket := &domain.Ticket{ID: 9}
	now := time.Now()
	_ = dispatcher.Publish(ctx, events.NewEvent(events.EventTicketCreated, ticket, "u-1", now, nil))
	_ = dispatcher.Publish(ctx, events.NewEvent(events.EventTicketStatusChanged, ticket, "agent-1", now, nil))

	for i := 0; i < 2; i++ {
		select {
		case <-target.notify:
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	cancel()
	<-done

	got := target.delivered()
	if len(got) != 2 || got[0].Type != events.EventTicketCreated || got[1].Type != events.EventTicketStatusChanged {
		t.Fatalf("delivered = %+v", got)
	}
}

func TestNotificationWorkerDropsWhenFull(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	metrics := observability.NewMetrics()
	target := &recordingDeliverer{}
	w := NewNotificationWorker(target, 1, zap.NewNop(), metrics)
	w.Subscribe(dispatcher)

	ticket := &domain.Ticket{ID: 3}
	for i := 0; i < 3; i++ {
		if err := dispatcher.Publish(context.Background(), events.NewEvent(events.EventTicketMessageAdded, ticket, "u-1", time.Now(), nil)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if got := metrics.Counter(observability.CounterNotificationsDrop); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}

	// A cancelled worker still flushes what was queued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := target.delivered(); len(got) != 1 {
		t.Fatalf("flushed = %d, want 1", len(got))
	}
}
