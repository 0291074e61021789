package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeCreated    TicketChangeType = "created"
	ChangeTypeStatus     TicketChangeType = "status"
	ChangeTypeAssignment TicketChangeType = "assignment"
)

// TicketHistory is an immutable audit trail entry. FromStatus is nil only for
// the creation record; assignment entries carry the unchanged status on both
// sides.
type TicketHistory struct {
	ID         int64
	TicketID   int64
	ChangeType TicketChangeType
	FromStatus *TicketStatus
	ToStatus   TicketStatus
	ActorID    string
	AssigneeID *string
	CreatedAt  time.Time
}
