package auth

import (
	"context"
	"database/sql"
	"errors"
)

// Repository is the Postgres-backed VolunteerStore.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ByUsername returns the active volunteer with this username, or nil.
func (r *Repository) ByUsername(ctx context.Context, username string) (*Volunteer, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, first_name, last_name, role, totp_secret, enabled_2fa, active
		FROM volunteers
		WHERE username = $1 AND active = TRUE
	`, username)
	var v Volunteer
	if err := row.Scan(&v.ID, &v.Username, &v.PasswordHash, &v.FirstName, &v.LastName, &v.Role, &v.TOTPSecret, &v.Enabled2FA, &v.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// Create inserts a volunteer and returns its id.
func (r *Repository) Create(ctx context.Context, v Volunteer) (int64, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO volunteers (username, password_hash, first_name, last_name, role, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, v.Username, v.PasswordHash, v.FirstName, v.LastName, v.Role, v.Active)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// SetTOTP updates the secret and the enabled flag in one statement.
func (r *Repository) SetTOTP(ctx context.Context, username, secret string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE volunteers SET totp_secret = $2, enabled_2fa = $3 WHERE username = $1
	`, username, secret, enabled)
	return err
}

// Update applies a patch through a fixed statement per field.
func (r *Repository) Update(ctx context.Context, username string, patch VolunteerPatch) error {
	if patch.FirstName != nil {
		if _, err := r.db.ExecContext(ctx, `UPDATE volunteers SET first_name = $2 WHERE username = $1`, username, *patch.FirstName); err != nil {
			return err
		}
	}
	if patch.LastName != nil {
		if _, err := r.db.ExecContext(ctx, `UPDATE volunteers SET last_name = $2 WHERE username = $1`, username, *patch.LastName); err != nil {
			return err
		}
	}
	if patch.Role != nil {
		if _, err := r.db.ExecContext(ctx, `UPDATE volunteers SET role = $2 WHERE username = $1`, username, *patch.Role); err != nil {
			return err
		}
	}
	if patch.PasswordHash != nil {
		if _, err := r.db.ExecContext(ctx, `UPDATE volunteers SET password_hash = $2 WHERE username = $1`, username, *patch.PasswordHash); err != nil {
			return err
		}
	}
	return nil
}

// Deactivate soft-deletes a volunteer.
func (r *Repository) Deactivate(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE volunteers SET active = FALSE WHERE username = $1`, username)
	return err
}
