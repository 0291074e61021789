package service

import (
	"context"
	"time"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/repository"
)

// HistoryRecorder writes audit entries inside the caller's transaction.
type HistoryRecorder struct{}

// Created records ticket creation.
func (HistoryRecorder) Created(ctx context.Context, repos repository.Repositories, ticket *domain.Ticket, actorID string, at time.Time) error {
	return repos.History().Create(ctx, &domain.TicketHistory{
		TicketID:   ticket.ID,
		ChangeType: domain.ChangeTypeCreated,
		ToStatus:   ticket.Status,
		ActorID:    actorID,
		CreatedAt:  at,
	})
}

// StatusChanged records a workflow transition.
func (HistoryRecorder) StatusChanged(ctx context.Context, repos repository.Repositories, ticketID int64, from, to domain.TicketStatus, actorID string, at time.Time) error {
	return repos.History().Create(ctx, &domain.TicketHistory{
		TicketID:   ticketID,
		ChangeType: domain.ChangeTypeStatus,
		FromStatus: &from,
		ToStatus:   to,
		ActorID:    actorID,
		CreatedAt:  at,
	})
}

// Assigned records a hand-off. The status is unchanged on both sides.
func (HistoryRecorder) Assigned(ctx context.Context, repos repository.Repositories, ticketID int64, status domain.TicketStatus, assigneeID, actorID string, at time.Time) error {
	return repos.History().Create(ctx, &domain.TicketHistory{
		TicketID:   ticketID,
		ChangeType: domain.ChangeTypeAssignment,
		FromStatus: &status,
		ToStatus:   status,
		ActorID:    actorID,
		AssigneeID: &assigneeID,
		CreatedAt:  at,
	})
}
