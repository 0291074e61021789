package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/events"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
)

const deliverTimeout = 5 * time.Second

// Deliverer hands one event to the outside world.
type Deliverer interface {
	Deliver(ctx context.Context, event events.Event) error
}

// NotificationWorker queues published events and delivers them in order on
// its own goroutine, so a slow Redis never stalls a lifecycle operation.
// A full queue drops the event and counts it.
type NotificationWorker struct {
	target  Deliverer
	queue   chan events.Event
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewNotificationWorker builds a worker with room for size pending events.
func NewNotificationWorker(target Deliverer, size int, logger *zap.Logger, metrics *observability.Metrics) *NotificationWorker {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{
		target:  target,
		queue:   make(chan events.Event, size),
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe attaches the worker to every event type.
func (w *NotificationWorker) Subscribe(d events.Dispatcher) {
	for _, eventType := range events.AllEventTypes {
		d.Subscribe(eventType, w.enqueue)
	}
}

func (w *NotificationWorker) enqueue(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
	default:
		w.metrics.Inc(observability.CounterNotificationsDrop)
		w.logger.Warn("notification queue full, event dropped",
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID))
	}
	return nil
}

// Run delivers until ctx is done, then flushes what is already queued.
func (w *NotificationWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return nil
		case event := <-w.queue:
			w.deliver(context.Background(), event)
		}
	}
}

func (w *NotificationWorker) flush() {
	for {
		select {
		case event := <-w.queue:
			w.deliver(context.Background(), event)
		default:
			return
		}
	}
}

func (w *NotificationWorker) deliver(parent context.Context, event events.Event) {
	ctx, cancel := context.WithTimeout(parent, deliverTimeout)
	defer cancel()
	if err := w.target.Deliver(ctx, event); err != nil {
		w.logger.Warn("event delivery failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
