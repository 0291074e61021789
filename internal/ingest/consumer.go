package ingest

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/mailbox"
	"github.com/spec-kit/mail-ticket-service/internal/mailparse"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
	"github.com/spec-kit/mail-ticket-service/internal/service"
	apperrors "github.com/spec-kit/mail-ticket-service/pkg/util/errorutil"
)

const (
	noSubject = "(no subject)"
	noBody    = "(empty message)"
)

// Mailbox is the part of the connector the consumer reads from.
type Mailbox interface {
	Events() <-chan struct{}
	ListUnseen(ctx context.Context) ([]mailbox.Handle, error)
	Fetch(ctx context.Context, h mailbox.Handle) ([]byte, error)
	MarkSeen(ctx context.Context, h mailbox.Handle) error
}

// TicketCreator is the part of the lifecycle engine ingestion feeds.
type TicketCreator interface {
	CreateTicket(ctx context.Context, input service.CreateTicketInput) (*domain.Ticket, error)
	FindBySourceKey(ctx context.Context, key string) (*domain.Ticket, bool, error)
}

// UserDirectory maps a sender address to a user id.
type UserDirectory interface {
	ResolveByEmail(ctx context.Context, email string) (string, bool, error)
}

// PassStats summarizes one drain of the mailbox.
type PassStats struct {
	Listed      int
	Created     int
	Duplicates  int
	Claimed     int
	ParseErrors int
	Failed      int
}

// Consumer turns unseen mailbox messages into tickets, one at a time.
type Consumer struct {
	mailbox Mailbox
	tickets TicketCreator
	users   UserDirectory
	cfg     config.IngestConfig
	claims  Claimer
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Option customizes a Consumer.
type Option func(*Consumer)

func WithClaimer(c Claimer) Option {
	return func(cn *Consumer) {
		cn.claims = c
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Consumer) {
		c.logger = logger
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// NewConsumer wires a consumer. Without WithClaimer claims are process local.
func NewConsumer(mb Mailbox, tickets TicketCreator, users UserDirectory, cfg config.IngestConfig, opts ...Option) *Consumer {
	c := &Consumer{
		mailbox: mb,
		tickets: tickets,
		users:   users,
		cfg:     cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.claims == nil {
		c.claims = NewMemoryClaims()
	}
	if c.cfg.ResyncInterval <= 0 {
		c.cfg.ResyncInterval = 5 * time.Minute
	}
	return c
}

// Run drains once, then again on every mailbox signal and resync tick,
// until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	resync := time.NewTicker(c.cfg.ResyncInterval)
	defer resync.Stop()

	for {
		stats, err := c.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("ingest pass aborted", zap.Error(err), zap.Any("stats", stats))
		} else if stats.Listed > 0 {
			c.logger.Info("ingest pass complete", zap.Any("stats", stats))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.mailbox.Events():
		case <-resync.C:
		}
	}
}

// Drain processes every message currently unseen, oldest first. A lost
// connection ends the pass early; everything else is per message.
func (c *Consumer) Drain(ctx context.Context) (PassStats, error) {
	var stats PassStats
	c.metrics.Inc(observability.CounterIngestPasses)

	handles, err := c.mailbox.ListUnseen(ctx)
	if err != nil {
		return stats, err
	}
	stats.Listed = len(handles)

	for _, h := range handles {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := c.process(ctx, h, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// process handles one message. Only connection loss is returned.
func (c *Consumer) process(ctx context.Context, h mailbox.Handle, stats *PassStats) error {
	key := h.Key()
	log := c.logger.With(zap.String("source_key", key))

	release, ok, err := c.claims.Claim(ctx, key)
	if err != nil {
		// Claims only narrow the overlap window; the unique source key
		// still rejects a second ticket.
		log.Warn("claim unavailable, processing unclaimed", zap.Error(err))
	} else if !ok {
		stats.Claimed++
		return nil
	} else {
		defer release()
	}

	if _, found, err := c.tickets.FindBySourceKey(ctx, key); err != nil {
		stats.Failed++
		c.metrics.Inc(observability.CounterIngestStoreErrors)
		log.Warn("source lookup failed", zap.Error(err))
		return nil
	} else if found {
		stats.Duplicates++
		c.metrics.Inc(observability.CounterIngestDuplicates)
		return c.markSeen(ctx, h, log)
	}

	raw, err := c.mailbox.Fetch(ctx, h)
	if err != nil {
		if mailbox.IsConnectionError(err) {
			return err
		}
		stats.Failed++
		log.Warn("fetch failed", zap.Error(err))
		return nil
	}

	msg, err := mailparse.Parse(raw)
	if err != nil {
		stats.ParseErrors++
		c.metrics.Inc(observability.CounterIngestParseErrors)
		log.Warn("unparseable message left unseen", zap.Error(err))
		return nil
	}
	if msg.Truncated {
		log.Warn("message body truncated", zap.Int("limit_bytes", mailparse.MaxBodyBytes))
	}

	input, err := c.buildInput(ctx, msg, key)
	if err != nil {
		stats.Failed++
		c.metrics.Inc(observability.CounterIngestStoreErrors)
		log.Warn("sender lookup failed", zap.Error(err))
		return nil
	}

	ticket, err := c.tickets.CreateTicket(ctx, input)
	switch {
	case err == nil:
		stats.Created++
		c.metrics.Inc(observability.CounterIngestCreated)
		log.Info("ticket created from mail", zap.Int64("ticket_id", ticket.ID), zap.String("orderer_id", input.OrdererID))
	case apperrors.HasCode(err, apperrors.CodeDuplicateSource):
		stats.Duplicates++
		c.metrics.Inc(observability.CounterIngestDuplicates)
	default:
		stats.Failed++
		if apperrors.IsRetryable(err) {
			c.metrics.Inc(observability.CounterIngestStoreErrors)
		}
		log.Warn("ticket not created, message left unseen", zap.Error(err))
		return nil
	}

	return c.markSeen(ctx, h, log)
}

func (c *Consumer) markSeen(ctx context.Context, h mailbox.Handle, log *zap.Logger) error {
	err := c.mailbox.MarkSeen(ctx, h)
	if err == nil {
		return nil
	}
	if mailbox.IsConnectionError(err) {
		return err
	}
	// The ticket exists; the next pass finds it by source key and retries.
	log.Warn("mark seen failed", zap.Error(err))
	return nil
}

func (c *Consumer) buildInput(ctx context.Context, msg *mailparse.Message, key string) (service.CreateTicketInput, error) {
	orderer := c.cfg.FallbackUserID
	if msg.From != "" {
		id, ok, err := c.users.ResolveByEmail(ctx, msg.From)
		if err != nil {
			return service.CreateTicketInput{}, err
		}
		if ok {
			orderer = id
		}
	}

	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = noSubject
	}
	content, quote := mailparse.SplitQuoted(msg.Body())
	if content == "" && quote == "" {
		content = noBody
	} else if content == "" {
		content = quote
		quote = ""
	}

	sourceKey := key
	return service.CreateTicketInput{
		Subject:       subject,
		Message:       content,
		Quote:         quote,
		CategoryID:    c.cfg.DefaultCategoryID,
		FunctionID:    c.cfg.DefaultFunctionID,
		Priority:      domain.TicketPriorityLow,
		OrdererID:     orderer,
		OrdererEmail:  msg.From,
		AttachmentRef: attachmentManifest(msg.Attachments),
		SourceKey:     &sourceKey,
		ActorID:       domain.SystemActorID,
	}, nil
}

