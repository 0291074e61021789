package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/spec-kit/mail-ticket-service/internal/repository"
)

// Store implements repository.Store on an embedded SQLite database.
//
// The pool is capped at one connection, so transactions serialize and a row
// read inside WithTx cannot change underneath the caller.
type Store struct {
	repos
	db *sqlx.DB
}

var _ repository.Store = (*Store)(nil)

// NewStore opens (or creates) a SQLite database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{repos: repos{x: db}, db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// WithTx runs fn in one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(repos{x: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// ext is satisfied by both *sqlx.DB and *sqlx.Tx.
type ext interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type repos struct {
	x ext
}

func (r repos) Tickets() repository.TicketRepository               { return &ticketRepo{x: r.x} }
func (r repos) Messages() repository.TicketMessageRepository       { return &messageRepo{x: r.x} }
func (r repos) History() repository.TicketHistoryRepository        { return &historyRepo{x: r.x} }
func (r repos) Assignments() repository.TicketAssignmentRepository { return &assignmentRepo{x: r.x} }
func (r repos) Feedback() repository.FeedbackRepository            { return &feedbackRepo{x: r.x} }
func (r repos) Users() repository.UserRepository                   { return &userRepo{x: r.x} }

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var se *msqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := se.Error()
		switch {
		case strings.Contains(msg, "tickets.source_key"):
			return fmt.Errorf("%w: %v", repository.ErrDuplicateSource, err)
		case strings.Contains(msg, "ticket_feedback.ticket_id"):
			return fmt.Errorf("%w: %v", repository.ErrDuplicateFeedback, err)
		}
		return fmt.Errorf("%w: %v", repository.ErrConstraint, err)
	}
	return err
}
