package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/mail-ticket-service/internal/config"
	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/observability"
)

// TicketExpirer is the part of the lifecycle engine the sweep drives.
type TicketExpirer interface {
	ListDue(ctx context.Context, limit int) ([]domain.Ticket, error)
	ExpireTicket(ctx context.Context, ticketID int64, observed domain.TicketStatus) (bool, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// ExpirySweeper periodically expires overdue tickets.
type ExpirySweeper struct {
	tickets     TicketExpirer
	interval    time.Duration
	batchSize   int
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewExpirySweeper builds a sweeper from lifecycle settings.
func NewExpirySweeper(tickets TicketExpirer, cfg config.LifecycleConfig, logger *zap.Logger, metrics *observability.Metrics) *ExpirySweeper {
	s := &ExpirySweeper{
		tickets:     tickets,
		interval:    cfg.SweepInterval,
		batchSize:   cfg.SweepBatchSize,
		concurrency: cfg.SweepConcurrency,
		logger:      logger,
		metrics:     metrics,
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 200
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	return s
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("expiry sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep expires every ticket that is due now. Batches repeat while a full
// batch made progress, so a backlog drains within one call.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var total SweepResult
	s.metrics.Inc(observability.CounterSweepRuns)
	for {
		due, err := s.tickets.ListDue(ctx, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			break
		}
		batch := s.expireBatch(ctx, due)
		total.Scanned += batch.Scanned
		total.Expired += batch.Expired
		total.Skipped += batch.Skipped
		total.Failed += batch.Failed
		if len(due) < s.batchSize || batch.Expired == 0 || ctx.Err() != nil {
			break
		}
	}
	if total.Scanned > 0 {
		s.logger.Info("expiry sweep finished",
			zap.Int("scanned", total.Scanned),
			zap.Int("expired", total.Expired),
			zap.Int("skipped", total.Skipped),
			zap.Int("failed", total.Failed))
	}
	return total, ctx.Err()
}

func (s *ExpirySweeper) expireBatch(ctx context.Context, due []domain.Ticket) SweepResult {
	var expired, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ticket := range due {
		g.Go(func() error {
			ok, err := s.tickets.ExpireTicket(gctx, ticket.ID, ticket.Status)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Warn("expire ticket failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
			case ok:
				expired.Add(1)
			default:
				skipped.Add(1)
			}
			// one ticket's failure never stops the others
			return nil
		})
	}
	_ = g.Wait()

	return SweepResult{
		Scanned: len(due),
		Expired: int(expired.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
}
