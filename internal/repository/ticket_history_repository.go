package repository

import (
	"context"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

type ticketHistoryRepository struct {
	q querier
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, change_type, from_status, to_status, actor_id, assignee_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`
	err := r.q.QueryRow(ctx, query,
		history.TicketID,
		history.ChangeType,
		history.FromStatus,
		history.ToStatus,
		history.ActorID,
		history.AssigneeID,
		history.CreatedAt,
	).Scan(&history.ID)
	return mapPgError(err)
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, change_type, from_status, to_status, actor_id, assignee_id, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var history domain.TicketHistory
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&history.ChangeType,
			&history.FromStatus,
			&history.ToStatus,
			&history.ActorID,
			&history.AssigneeID,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}
