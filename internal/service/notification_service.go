package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/events"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
)

// Publisher is the subset of redis.UniversalClient the notification hand-off uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NotificationService forwards domain events to a Redis channel for delivery
// workers. worker.NotificationWorker feeds it from the dispatcher.
type NotificationService struct {
	publisher Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	cfg       config.NotificationConfig
}

// NewNotificationService creates the service. A nil publisher logs events only.
func NewNotificationService(publisher Publisher, logger *zap.Logger, metrics *observability.Metrics, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Deliver logs the event and publishes it as JSON on the configured channel.
func (n *NotificationService) Deliver(ctx context.Context, event events.Event) error {
	n.logger.Debug("ticket event",
		zap.String("event_type", string(event.Type)),
		zap.Int64("ticket_id", event.TicketID),
		zap.String("actor_id", event.ActorID))

	if n.publisher == nil || n.cfg.RedisChannel == "" {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		n.metrics.Inc(observability.CounterNotificationErrors)
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	if err := n.publisher.Publish(ctx, n.cfg.RedisChannel, body).Err(); err != nil {
		n.metrics.Inc(observability.CounterNotificationErrors)
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}
