package repository

import (
	"context"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

type ticketAssignmentRepository struct {
	q querier
}

func (r *ticketAssignmentRepository) Create(ctx context.Context, assignment *domain.TicketAssignment) error {
	const query = `
        INSERT INTO ticket_assignments (ticket_id, assignee_id, assigned_by_id, assigned_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id`
	err := r.q.QueryRow(ctx, query,
		assignment.TicketID,
		assignment.AssigneeID,
		assignment.AssignedByID,
		assignment.AssignedAt,
	).Scan(&assignment.ID)
	return mapPgError(err)
}

func (r *ticketAssignmentRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketAssignment, error) {
	const query = `
        SELECT id, ticket_id, assignee_id, assigned_by_id, assigned_at
        FROM ticket_assignments WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var result []domain.TicketAssignment
	for rows.Next() {
		var a domain.TicketAssignment
		if err := rows.Scan(&a.ID, &a.TicketID, &a.AssigneeID, &a.AssignedByID, &a.AssignedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
