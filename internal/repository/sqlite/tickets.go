package sqlite

import (
	"context"
	"time"

	"github.com/spec-kit/mail-ticket-service/internal/domain"
	"github.com/spec-kit/mail-ticket-service/internal/repository"
)

const ticketColumns = `id, slug, status, priority, category_id, function_id, orderer_id, orderer_email,
	updater_id, subject, attachment_ref, source_key, expired_at, finish_at, created_at, updated_at`

type ticketRepo struct {
	x ext
}

func (r *ticketRepo) Create(ctx context.Context, t *domain.Ticket) error {
	const query = `
		INSERT INTO tickets (
			slug, status, priority, category_id, function_id, orderer_id, orderer_email,
			updater_id, subject, attachment_ref, source_key, expired_at, finish_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.x.ExecContext(ctx, query,
		t.Slug, string(t.Status), string(t.Priority), t.CategoryID, t.FunctionID, t.OrdererID, t.OrdererEmail,
		nullString(t.UpdaterID), t.Subject, nullString(t.AttachmentRef), nullString(t.SourceKey),
		toUnix(t.ExpiredAt), nullTime(t.FinishAt), toUnix(t.CreatedAt), toUnix(t.UpdatedAt),
	)
	if err != nil {
		return mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

func (r *ticketRepo) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.get(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
}

// GetByIDForUpdate needs no row lock: the single connection already
// serializes transactions.
func (r *ticketRepo) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *ticketRepo) GetBySourceKey(ctx context.Context, key string) (*domain.Ticket, error) {
	return r.get(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE source_key = ?`, key)
}

func (r *ticketRepo) UpdateState(ctx context.Context, t *domain.Ticket) error {
	const query = `
		UPDATE tickets SET status = ?, updater_id = ?, expired_at = ?, finish_at = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.x.ExecContext(ctx, query,
		string(t.Status), nullString(t.UpdaterID), toUnix(t.ExpiredAt), nullTime(t.FinishAt), toUnix(t.UpdatedAt), t.ID)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *ticketRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT ` + ticketColumns + `
		FROM tickets
		WHERE status IN ('open', 'process', 'feedback') AND expired_at < ?
		ORDER BY expired_at ASC, id ASC
		LIMIT ?`
	var rows []ticketRow
	if err := r.x.SelectContext(ctx, &rows, query, toUnix(now), limit); err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.Ticket, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *ticketRepo) get(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var row ticketRow
	if err := r.x.GetContext(ctx, &row, query, arg); err != nil {
		return nil, mapError(err)
	}
	t := row.toDomain()
	return &t, nil
}
