package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusProcess  TicketStatus = "process"
	TicketStatusFeedback TicketStatus = "feedback"
	TicketStatusDone     TicketStatus = "done"
	TicketStatusExpired  TicketStatus = "expired"
)

// TicketStatuses lists every status in workflow order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusProcess,
	TicketStatusFeedback,
	TicketStatusDone,
	TicketStatusExpired,
}

// ParseTicketStatus validates a raw status literal.
func ParseTicketStatus(raw string) (TicketStatus, error) {
	status := TicketStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown ticket status %q", raw)
	}
	return status, nil
}

// Valid reports whether s is one of the enumerated statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusProcess, TicketStatusFeedback, TicketStatusDone, TicketStatusExpired:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing edges.
func (s TicketStatus) Terminal() bool {
	switch s {
	case TicketStatusDone, TicketStatusExpired:
		return true
	case TicketStatusOpen, TicketStatusProcess, TicketStatusFeedback:
		return false
	}
	panic(fmt.Sprintf("domain: unhandled ticket status %q", s))
}

// TransitionVerdict is the outcome of checking an edge against the workflow graph.
type TransitionVerdict int

const (
	TransitionAllowed TransitionVerdict = iota
	TransitionInvalid
	TransitionFromTerminal
)

// CanTransitionTo checks the edge s -> next. Entering expired is additionally
// gated on the ticket being overdue, which callers check against the clock.
func (s TicketStatus) CanTransitionTo(next TicketStatus) TransitionVerdict {
	if !next.Valid() {
		return TransitionInvalid
	}
	switch s {
	case TicketStatusOpen:
		switch next {
		case TicketStatusProcess, TicketStatusExpired:
			return TransitionAllowed
		}
	case TicketStatusProcess:
		switch next {
		case TicketStatusFeedback, TicketStatusExpired:
			return TransitionAllowed
		}
	case TicketStatusFeedback:
		switch next {
		case TicketStatusDone, TicketStatusProcess, TicketStatusExpired:
			return TransitionAllowed
		}
	case TicketStatusDone, TicketStatusExpired:
		return TransitionFromTerminal
	default:
		return TransitionInvalid
	}
	return TransitionInvalid
}

// AcceptsFeedback reports whether feedback may be linked in status s.
func (s TicketStatus) AcceptsFeedback() bool {
	switch s {
	case TicketStatusFeedback, TicketStatusDone:
		return true
	case TicketStatusOpen, TicketStatusProcess, TicketStatusExpired:
		return false
	}
	return false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// ParseTicketPriority validates a raw priority literal. Empty input yields low.
func ParseTicketPriority(raw string) (TicketPriority, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return TicketPriorityLow, nil
	}
	priority := TicketPriority(trimmed)
	if !priority.Valid() {
		return "", fmt.Errorf("unknown ticket priority %q", raw)
	}
	return priority, nil
}

// Valid reports whether p is one of the enumerated priorities.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            int64
	Slug          string
	Status        TicketStatus
	Priority      TicketPriority
	CategoryID    string
	FunctionID    string
	OrdererID     string
	OrdererEmail  string
	UpdaterID     *string // last actor to change status
	Subject       string
	AttachmentRef *string
	SourceKey     *string
	ExpiredAt     time.Time
	FinishAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Overdue reports whether the ticket's expiry has passed at now.
func (t *Ticket) Overdue(now time.Time) bool {
	return now.After(t.ExpiredAt)
}
