package sqlite

import (
	"context"
	"database/sql"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
)

type messageRepo struct {
	x ext
}

func (r *messageRepo) Create(ctx context.Context, m *domain.TicketMessage) error {
	res, err := r.x.ExecContext(ctx,
		`INSERT INTO ticket_messages (ticket_id, author_id, content, quote, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.TicketID, m.AuthorID, m.Content, m.Quote, toUnix(m.CreatedAt))
	if err != nil {
		return mapError(err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (r *messageRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketMessage, error) {
	var rows []messageRow
	if err := r.x.SelectContext(ctx, &rows,
		`SELECT id, ticket_id, author_id, content, quote, created_at FROM ticket_messages WHERE ticket_id = ? ORDER BY id`,
		ticketID); err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.TicketMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

type historyRepo struct {
	x ext
}

func (r *historyRepo) Create(ctx context.Context, h *domain.TicketHistory) error {
	var from sql.NullString
	if h.FromStatus != nil {
		from = sql.NullString{String: string(*h.FromStatus), Valid: true}
	}
	res, err := r.x.ExecContext(ctx,
		`INSERT INTO ticket_history (ticket_id, change_type, from_status, to_status, actor_id, assignee_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.TicketID, string(h.ChangeType), from, string(h.ToStatus), h.ActorID, nullString(h.AssigneeID), toUnix(h.CreatedAt))
	if err != nil {
		return mapError(err)
	}
	h.ID, err = res.LastInsertId()
	return err
}

func (r *historyRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	var rows []historyRow
	if err := r.x.SelectContext(ctx, &rows,
		`SELECT id, ticket_id, change_type, from_status, to_status, actor_id, assignee_id, created_at
		 FROM ticket_history WHERE ticket_id = ? ORDER BY id`,
		ticketID); err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.TicketHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

type assignmentRepo struct {
	x ext
}

func (r *assignmentRepo) Create(ctx context.Context, a *domain.TicketAssignment) error {
	res, err := r.x.ExecContext(ctx,
		`INSERT INTO ticket_assignments (ticket_id, assignee_id, assigned_by_id, assigned_at) VALUES (?, ?, ?, ?)`,
		a.TicketID, a.AssigneeID, a.AssignedByID, toUnix(a.AssignedAt))
	if err != nil {
		return mapError(err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

func (r *assignmentRepo) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketAssignment, error) {
	var rows []assignmentRow
	if err := r.x.SelectContext(ctx, &rows,
		`SELECT id, ticket_id, assignee_id, assigned_by_id, assigned_at FROM ticket_assignments WHERE ticket_id = ? ORDER BY id`,
		ticketID); err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.TicketAssignment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

type feedbackRepo struct {
	x ext
}

func (r *feedbackRepo) Create(ctx context.Context, f *domain.Feedback) error {
	res, err := r.x.ExecContext(ctx,
		`INSERT INTO ticket_feedback (ticket_id, author_id, rating, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.TicketID, f.AuthorID, f.Rating, f.Comment, toUnix(f.CreatedAt))
	if err != nil {
		return mapError(err)
	}
	f.ID, err = res.LastInsertId()
	return err
}

func (r *feedbackRepo) GetByTicket(ctx context.Context, ticketID int64) (*domain.Feedback, error) {
	var row feedbackRow
	if err := r.x.GetContext(ctx, &row,
		`SELECT id, ticket_id, author_id, rating, comment, created_at FROM ticket_feedback WHERE ticket_id = ?`,
		ticketID); err != nil {
		return nil, mapError(err)
	}
	f := row.toDomain()
	return &f, nil
}

type userRepo struct {
	x ext
}

func (r *userRepo) Upsert(ctx context.Context, u *domain.User) error {
	if u.Status == "" {
		u.Status = domain.UserStatusActive
	}
	_, err := r.x.ExecContext(ctx,
		`INSERT INTO users (id, name, email, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, status = excluded.status`,
		u.ID, u.Name, u.Email, string(u.Status))
	return mapError(err)
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.get(ctx, `SELECT id, name, email, status FROM users WHERE id = ?`, id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.get(ctx, `SELECT id, name, email, status FROM users WHERE email = ? COLLATE NOCASE`, email)
}

func (r *userRepo) get(ctx context.Context, query string, arg any) (*domain.User, error) {
	var row userRow
	if err := r.x.GetContext(ctx, &row, query, arg); err != nil {
		return nil, mapError(err)
	}
	return &domain.User{ID: row.ID, Name: row.Name, Email: row.Email, Status: domain.UserStatus(row.Status)}, nil
}
