package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateSource is returned when a ticket's source key is already taken.
	ErrDuplicateSource = errors.New("repository: duplicate source key")
	// ErrDuplicateFeedback is returned when a ticket already has feedback.
	ErrDuplicateFeedback = errors.New("repository: duplicate feedback")
	// ErrConstraint is returned for any other integrity violation.
	ErrConstraint = errors.New("repository: constraint violation")
)

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	// GetByIDForUpdate reads the ticket and holds it until the enclosing
	// transaction ends. Outside a transaction it behaves like GetByID.
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Ticket, error)
	GetBySourceKey(ctx context.Context, key string) (*domain.Ticket, error)
	// UpdateState writes status, updater, expiry, finish and updated_at.
	UpdateState(ctx context.Context, ticket *domain.Ticket) error
	// ListDue returns non-terminal tickets whose expiry is before now, oldest expiry first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
}

// TicketMessageRepository manages ticket thread messages.
type TicketMessageRepository interface {
	Create(ctx context.Context, msg *domain.TicketMessage) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error)
}

// TicketHistoryRepository stores audit entries.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error)
}

// TicketAssignmentRepository stores assignment hand-offs.
type TicketAssignmentRepository interface {
	Create(ctx context.Context, assignment *domain.TicketAssignment) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketAssignment, error)
}

// FeedbackRepository stores the single feedback entry per ticket.
type FeedbackRepository interface {
	Create(ctx context.Context, feedback *domain.Feedback) error
	GetByTicket(ctx context.Context, ticketID int64) (*domain.Feedback, error)
}

// UserRepository resolves directory users.
type UserRepository interface {
	Upsert(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Repositories groups every repository bound to one connection or transaction.
type Repositories interface {
	Tickets() TicketRepository
	Messages() TicketMessageRepository
	History() TicketHistoryRepository
	Assignments() TicketAssignmentRepository
	Feedback() FeedbackRepository
	Users() UserRepository
}

// Store is the transactional ticket store.
type Store interface {
	Repositories
	// WithTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Repositories) error) error
	Ping(ctx context.Context) error
	Close() error
}

// UserDirectory resolves a sender address to a user.
type UserDirectory struct {
	users UserRepository
}

// NewUserDirectory wraps a user repository.
func NewUserDirectory(users UserRepository) *UserDirectory {
	return &UserDirectory{users: users}
}

// ResolveByEmail returns the user id for email, or ok=false when nobody matches.
func (d *UserDirectory) ResolveByEmail(ctx context.Context, email string) (string, bool, error) {
	if email == "" {
		return "", false, nil
	}
	user, err := d.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if user.Status == domain.UserStatusSuspended {
		return "", false, nil
	}
	return user.ID, true, nil
}
