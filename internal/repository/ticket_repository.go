package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

const ticketColumns = `id, slug, status, priority, category_id, function_id, orderer_id, orderer_email,
               updater_id, subject, attachment_ref, source_key, expired_at, finish_at, created_at, updated_at`

type ticketRepository struct {
	q querier
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (slug, status, priority, category_id, function_id, orderer_id, orderer_email,
            updater_id, subject, attachment_ref, source_key, expired_at, finish_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        RETURNING id`
	err := r.q.QueryRow(ctx, query,
		ticket.Slug,
		ticket.Status,
		ticket.Priority,
		ticket.CategoryID,
		ticket.FunctionID,
		ticket.OrdererID,
		ticket.OrdererEmail,
		ticket.UpdaterID,
		ticket.Subject,
		ticket.AttachmentRef,
		ticket.SourceKey,
		ticket.ExpiredAt,
		ticket.FinishAt,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	).Scan(&ticket.ID)
	return mapPgError(err)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1 FOR UPDATE`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetBySourceKey(ctx context.Context, key string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE source_key=$1`
	return r.fetchSingle(ctx, query, key)
}

func (r *ticketRepository) UpdateState(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, updater_id=$2, expired_at=$3, finish_at=$4, updated_at=$5
        WHERE id=$6`
	cmd, err := r.q.Exec(ctx, query,
		ticket.Status,
		ticket.UpdaterID,
		ticket.ExpiredAt,
		ticket.FinishAt,
		ticket.UpdatedAt,
		ticket.ID,
	)
	if err != nil {
		return mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE status IN ('open','process','feedback') AND expired_at < $1
        ORDER BY expired_at ASC, id ASC
        LIMIT $2`
	rows, err := r.q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	rows, err := r.q.Query(ctx, query, arg)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.Slug,
			&ticket.Status,
			&ticket.Priority,
			&ticket.CategoryID,
			&ticket.FunctionID,
			&ticket.OrdererID,
			&ticket.OrdererEmail,
			&ticket.UpdaterID,
			&ticket.Subject,
			&ticket.AttachmentRef,
			&ticket.SourceKey,
			&ticket.ExpiredAt,
			&ticket.FinishAt,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, mapPgError(rows.Err())
}
