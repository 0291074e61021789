package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketMessageAdded  EventType = "ticket_message_added"
	EventTicketFeedback      EventType = "ticket_feedback_linked"
	EventTicketExpiryChanged EventType = "ticket_expiry_changed"
)

// AllEventTypes lists every type a subscriber may register for.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketAssigned,
	EventTicketMessageAdded,
	EventTicketFeedback,
	EventTicketExpiryChanged,
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  int64     `json:"ticket_id"`
	Slug      string    `json:"slug"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(eventType EventType, ticket *domain.Ticket, actorID string, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticket.ID,
		Slug:      ticket.Slug,
		ActorID:   actorID,
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Priority   domain.TicketPriority `json:"priority"`
	CategoryID string                `json:"category_id"`
	FunctionID string                `json:"function_id"`
	OrdererID  string                `json:"orderer_id"`
	Subject    string                `json:"subject"`
	ExpiredAt  time.Time             `json:"expired_at"`
	SourceKey  *string               `json:"source_key,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssignmentID int64  `json:"assignment_id"`
	AssigneeID   string `json:"assignee_id"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   int64  `json:"message_id"`
	AuthorID    string `json:"author_id"`
	BodyPreview string `json:"body_preview"`
}

// TicketFeedbackPayload payload.
type TicketFeedbackPayload struct {
	FeedbackID int64 `json:"feedback_id"`
	Rating     int   `json:"rating"`
}

// TicketExpiryChangedPayload payload.
type TicketExpiryChangedPayload struct {
	OldExpiredAt time.Time `json:"old_expired_at"`
	NewExpiredAt time.Time `json:"new_expired_at"`
}
