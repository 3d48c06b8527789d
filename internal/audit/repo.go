package audit

import (
	"context"
	"database/sql"
)

// Repository persists drained audit events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes one audit event row.
func (r *Repository) Insert(ctx context.Context, evt Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (event_id, level, category, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.ID, evt.Level, evt.Category, evt.Message, nullable(evt.Details), evt.CreatedAt)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
