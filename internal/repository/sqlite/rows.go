package sqlite

import (
	"database/sql"
	"time"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

type ticketRow struct {
	ID            int64          `db:"id"`
	Slug          string         `db:"slug"`
	Status        string         `db:"status"`
	Priority      string         `db:"priority"`
	CategoryID    string         `db:"category_id"`
	FunctionID    string         `db:"function_id"`
	OrdererID     string         `db:"orderer_id"`
	OrdererEmail  string         `db:"orderer_email"`
	UpdaterID     sql.NullString `db:"updater_id"`
	Subject       string         `db:"subject"`
	AttachmentRef sql.NullString `db:"attachment_ref"`
	SourceKey     sql.NullString `db:"source_key"`
	ExpiredAt     int64          `db:"expired_at"`
	FinishAt      sql.NullInt64  `db:"finish_at"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r ticketRow) toDomain() domain.Ticket {
	return domain.Ticket{
		ID:            r.ID,
		Slug:          r.Slug,
		Status:        domain.TicketStatus(r.Status),
		Priority:      domain.TicketPriority(r.Priority),
		CategoryID:    r.CategoryID,
		FunctionID:    r.FunctionID,
		OrdererID:     r.OrdererID,
		OrdererEmail:  r.OrdererEmail,
		UpdaterID:     stringPtr(r.UpdaterID),
		Subject:       r.Subject,
		AttachmentRef: stringPtr(r.AttachmentRef),
		SourceKey:     stringPtr(r.SourceKey),
		ExpiredAt:     fromUnix(r.ExpiredAt),
		FinishAt:      timePtr(r.FinishAt),
		CreatedAt:     fromUnix(r.CreatedAt),
		UpdatedAt:     fromUnix(r.UpdatedAt),
	}
}

type messageRow struct {
	ID        int64  `db:"id"`
	TicketID  int64  `db:"ticket_id"`
	AuthorID  string `db:"author_id"`
	Content   string `db:"content"`
	Quote     string `db:"quote"`
	CreatedAt int64  `db:"created_at"`
}

func (r messageRow) toDomain() domain.TicketMessage {
	return domain.TicketMessage{
		ID:        r.ID,
		TicketID:  r.TicketID,
		AuthorID:  r.AuthorID,
		Content:   r.Content,
		Quote:     r.Quote,
		CreatedAt: fromUnix(r.CreatedAt),
	}
}

type historyRow struct {
	ID         int64          `db:"id"`
	TicketID   int64          `db:"ticket_id"`
	ChangeType string         `db:"change_type"`
	FromStatus sql.NullString `db:"from_status"`
	ToStatus   string         `db:"to_status"`
	ActorID    string         `db:"actor_id"`
	AssigneeID sql.NullString `db:"assignee_id"`
	CreatedAt  int64          `db:"created_at"`
}

func (r historyRow) toDomain() domain.TicketHistory {
	h := domain.TicketHistory{
		ID:         r.ID,
		TicketID:   r.TicketID,
		ChangeType: domain.TicketChangeType(r.ChangeType),
		ToStatus:   domain.TicketStatus(r.ToStatus),
		ActorID:    r.ActorID,
		AssigneeID: stringPtr(r.AssigneeID),
		CreatedAt:  fromUnix(r.CreatedAt),
	}
	if r.FromStatus.Valid {
		from := domain.TicketStatus(r.FromStatus.String)
		h.FromStatus = &from
	}
	return h
}

type assignmentRow struct {
	ID           int64  `db:"id"`
	TicketID     int64  `db:"ticket_id"`
	AssigneeID   string `db:"assignee_id"`
	AssignedByID string `db:"assigned_by_id"`
	AssignedAt   int64  `db:"assigned_at"`
}

func (r assignmentRow) toDomain() domain.TicketAssignment {
	return domain.TicketAssignment{
		ID:           r.ID,
		TicketID:     r.TicketID,
		AssigneeID:   r.AssigneeID,
		AssignedByID: r.AssignedByID,
		AssignedAt:   fromUnix(r.AssignedAt),
	}
}

type feedbackRow struct {
	ID        int64  `db:"id"`
	TicketID  int64  `db:"ticket_id"`
	AuthorID  string `db:"author_id"`
	Rating    int    `db:"rating"`
	Comment   string `db:"comment"`
	CreatedAt int64  `db:"created_at"`
}

func (r feedbackRow) toDomain() domain.Feedback {
	return domain.Feedback{
		ID:        r.ID,
		TicketID:  r.TicketID,
		AuthorID:  r.AuthorID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: fromUnix(r.CreatedAt),
	}
}

type userRow struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	Email  string `db:"email"`
	Status string `db:"status"`
}
