package dto

import (
	"time"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

// CreateTicketRequest payload. Either OrdererID or From identifies the requester.
type CreateTicketRequest struct {
	Subject    string                `json:"subject" validate:"required"`
	Message    string                `json:"message" validate:"required"`
	Quote      string                `json:"quote"`
	Category   string                `json:"category"`
	FunctionID string                `json:"function_id"`
	Priority   domain.TicketPriority `json:"priority"`
	OrdererID  string                `json:"orderer_id"`
	From       string                `json:"from" validate:"omitempty,email"`
	ExpiredAt  *time.Time            `json:"expired_at"`
}

// TransitionRequest payload.
type TransitionRequest struct {
	Status domain.TicketStatus `json:"status" validate:"required"`
}

// AssignRequest payload.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id" validate:"required"`
}

// CreateMessageRequest payload.
type CreateMessageRequest struct {
	Content string `json:"content" validate:"required"`
	Quote   string `json:"quote"`
}

// FeedbackRequest payload.
type FeedbackRequest struct {
	Rating  int    `json:"rating" validate:"min=1,max=5"`
	Comment string `json:"comment"`
}

// UpdateExpiryRequest payload.
type UpdateExpiryRequest struct {
	ExpiredAt time.Time `json:"expired_at" validate:"required"`
}

// TicketResponse is the ticket header.
type TicketResponse struct {
	ID            int64                 `json:"id"`
	Slug          string                `json:"slug"`
	Status        domain.TicketStatus   `json:"status"`
	Priority      domain.TicketPriority `json:"priority"`
	Category      string                `json:"category"`
	FunctionID    string                `json:"function_id"`
	OrdererID     string                `json:"orderer_id"`
	OrdererEmail  string                `json:"orderer_email,omitempty"`
	UpdaterID     *string               `json:"updater_id"`
	Subject       string                `json:"subject"`
	AttachmentRef *string               `json:"attachment_ref,omitempty"`
	ExpiredAt     time.Time             `json:"expired_at"`
	FinishAt      *time.Time            `json:"finish_at"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketResponse
	Messages    []TicketMessageResponse `json:"messages"`
	History     []TicketHistoryResponse `json:"history"`
	Assignments []AssignmentResponse    `json:"assignments"`
	Feedback    *FeedbackResponse       `json:"feedback"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID        int64     `json:"id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	Quote     string    `json:"quote,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID         int64                   `json:"id"`
	ChangeType domain.TicketChangeType `json:"change_type"`
	FromStatus *domain.TicketStatus    `json:"from_status"`
	ToStatus   domain.TicketStatus     `json:"to_status"`
	ActorID    string                  `json:"actor_id"`
	AssigneeID *string                 `json:"assignee_id,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

// AssignmentResponse is one hand-off.
type AssignmentResponse struct {
	ID           int64     `json:"id"`
	AssigneeID   string    `json:"assignee_id"`
	AssignedByID string    `json:"assigned_by_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// FeedbackResponse is the requester's rating.
type FeedbackResponse struct {
	ID        int64     `json:"id"`
	AuthorID  string    `json:"author_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}
