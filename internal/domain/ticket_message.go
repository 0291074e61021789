package domain

import "time"

// TicketMessage captures communications in a ticket thread. Messages are
// append-only.
type TicketMessage struct {
	ID        int64
	TicketID  int64
	AuthorID  string
	Content   string
	Quote     string
	CreatedAt time.Time
}
