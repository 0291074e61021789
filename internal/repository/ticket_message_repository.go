package repository

import (
	"context"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

type ticketMessageRepository struct {
	q querier
}

func (r *ticketMessageRepository) Create(ctx context.Context, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO ticket_messages (ticket_id, author_id, content, quote, created_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	err := r.q.QueryRow(ctx, query,
		msg.TicketID,
		msg.AuthorID,
		msg.Content,
		msg.Quote,
		msg.CreatedAt,
	).Scan(&msg.ID)
	return mapPgError(err)
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error) {
	const query = `
        SELECT id, ticket_id, author_id, content, quote, created_at
        FROM ticket_messages WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		var msg domain.TicketMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.AuthorID,
			&msg.Content,
			&msg.Quote,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
