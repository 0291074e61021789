package testutil

import (
	"context"
	"sync"

	"github.com/spec-kit/mail-ticket-service/internal/events"
)

// EventRecorder is an events.Dispatcher that keeps every published event.
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

var _ events.Dispatcher = (*EventRecorder)(nil)

// Publish stores the event.
func (r *EventRecorder) Publish(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Subscribe is a no-op.
func (r *EventRecorder) Subscribe(events.EventType, events.EventHandler) {}

// Events returns a copy of what was published so far.
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// OfType returns the published events of one type, in order.
func (r *EventRecorder) OfType(eventType events.EventType) []events.Event {
	var out []events.Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
