package repository

import (
	"context"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

type feedbackRepository struct {
	q querier
}

func (r *feedbackRepository) Create(ctx context.Context, feedback *domain.Feedback) error {
	const query = `
        INSERT INTO ticket_feedback (ticket_id, author_id, rating, comment, created_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	err := r.q.QueryRow(ctx, query,
		feedback.TicketID,
		feedback.AuthorID,
		feedback.Rating,
		feedback.Comment,
		feedback.CreatedAt,
	).Scan(&feedback.ID)
	return mapPgError(err)
}

func (r *feedbackRepository) GetByTicket(ctx context.Context, ticketID int64) (*domain.Feedback, error) {
	const query = `
        SELECT id, ticket_id, author_id, rating, comment, created_at
        FROM ticket_feedback WHERE ticket_id=$1`
	var fb domain.Feedback
	if err := r.q.QueryRow(ctx, query, ticketID).Scan(
		&fb.ID,
		&fb.TicketID,
		&fb.AuthorID,
		&fb.Rating,
		&fb.Comment,
		&fb.CreatedAt,
	); err != nil {
		return nil, mapPgError(err)
	}
	return &fb, nil
}
