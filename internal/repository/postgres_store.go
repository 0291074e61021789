package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgRepositories struct {
	q querier
}

func (r pgRepositories) Tickets() TicketRepository {
	return &ticketRepository{q: r.q}
}

func (r pgRepositories) Messages() TicketMessageRepository {
	return &ticketMessageRepository{q: r.q}
}

func (r pgRepositories) History() TicketHistoryRepository {
	return &ticketHistoryRepository{q: r.q}
}

func (r pgRepositories) Assignments() TicketAssignmentRepository {
	return &ticketAssignmentRepository{q: r.q}
}

func (r pgRepositories) Feedback() FeedbackRepository {
	return &feedbackRepository{q: r.q}
}

func (r pgRepositories) Users() UserRepository {
	return &userRepository{q: r.q}
}

type postgresStore struct {
	pgRepositories
	pool *pgxpool.Pool
}

// NewPostgresStore builds a Store on a pgx pool. Close closes the pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pgRepositories: pgRepositories{q: pool}, pool: pool}
}

func (s *postgresStore) WithTx(ctx context.Context, fn func(Repositories) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgRepositories{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "idx_tickets_source_key":
			return fmt.Errorf("%w: %s", ErrDuplicateSource, pgErr.Detail)
		case "ticket_feedback_ticket_id_key":
			return fmt.Errorf("%w: %s", ErrDuplicateFeedback, pgErr.Detail)
		}
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
	}
	return err
}
