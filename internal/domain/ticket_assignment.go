package domain

import "time"

// TicketAssignment records one hand-off of a ticket to an assignee.
type TicketAssignment struct {
	ID           int64
	TicketID     int64
	AssigneeID   string
	AssignedByID string
	AssignedAt   time.Time
}
