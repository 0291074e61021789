package domain

import "time"

const (
	MinFeedbackRating = 1
	MaxFeedbackRating = 5
)

// Feedback is the requester's rating of a resolved ticket. At most one per ticket.
type Feedback struct {
	ID        int64
	TicketID  int64
	AuthorID  string
	Rating    int
	Comment   string
	CreatedAt time.Time
}
