package checkin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const childColumns = `
	c.id, c.first_name, c.last_name, c.birth_date::text, f.family_name,
	c.allergies, c.medications, c.special_notes, c.medical_notes`

func scanChild(row *sql.Row) (*Child, error) {
	var c Child
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.BirthDate, &c.FamilyName,
		&c.Allergies, &c.Medications, &c.SpecialNotes, &c.MedicalNotes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ChildByQR resolves an active QR value to an active child.
func (r *Repository) ChildByQR(ctx context.Context, qrValue string) (*Child, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+childColumns+`
		FROM children c
		JOIN families f ON c.family_id = f.id
		JOIN qr_codes qc ON qc.child_id = c.id
		WHERE qc.qr_value = $1 AND qc.active = TRUE AND c.active = TRUE
	`, qrValue)
	return scanChild(row)
}

// ChildByID returns an active child by id.
func (r *Repository) ChildByID(ctx context.Context, id int64) (*Child, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+childColumns+`
		FROM children c
		JOIN families f ON c.family_id = f.id
		WHERE c.id = $1 AND c.active = TRUE
	`, id)
	return scanChild(row)
}

// ActivePrograms lists active programs sorted by minimum age ascending.
func (r *Repository) ActivePrograms(ctx context.Context) ([]Program, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, min_age, max_age
		FROM programs
		WHERE active = TRUE
		ORDER BY min_age
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Program
	for rows.Next() {
		var p Program
		if err := rows.Scan(&p.ID, &p.Name, &p.MinAge, &p.MaxAge); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CreateSession inserts a new check-in session row.
func (r *Repository) CreateSession(ctx context.Context, s Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkin_sessions (session_id, child_id, program_id, station_id, device_id, confirmed, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
	`, s.SessionID, s.ChildID, s.ProgramID, s.StationID, s.DeviceID, s.CreatedAt, s.ExpiresAt)
	return err
}

// PendingSession returns the child behind an unconfirmed, unexpired session,
// or nil when no such session exists.
func (r *Repository) PendingSession(ctx context.Context, sessionID string, now time.Time) (*Child, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+childColumns+`
		FROM checkin_sessions cs
		JOIN children c ON cs.child_id = c.id
		JOIN families f ON c.family_id = f.id
		WHERE cs.session_id = $1 AND cs.confirmed = FALSE AND cs.expires_at > $2
	`, sessionID, now)
	return scanChild(row)
}

// ConfirmSession flips confirmed=false to true and writes the attendance row
// in one transaction. The conditional UPDATE is the compare-and-swap that
// guarantees at most one caller wins; everyone else is classified into a
// session rejection.
func (r *Repository) ConfirmSession(ctx context.Context, sessionID string, programID *int64, stationID, createdBy string, now time.Time) (*Confirmation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE checkin_sessions
		SET confirmed = TRUE
		WHERE session_id = $1 AND confirmed = FALSE AND expires_at > $2
		RETURNING child_id, program_id
	`, sessionID, now)
	var childID int64
	var sessionProgram *int64
	if err := row.Scan(&childID, &sessionProgram); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classifySession(ctx, sessionID, now)
		}
		return nil, err
	}
	if programID == nil {
		programID = sessionProgram
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance (child_id, program_id, station_id, checkin_time, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, childID, programID, stationID, now, createdBy); err != nil {
		return nil, err
	}

	childRow := tx.QueryRowContext(ctx, `
		SELECT `+childColumns+`
		FROM children c
		JOIN families f ON c.family_id = f.id
		WHERE c.id = $1
	`, childID)
	child, err := scanChild(childRow)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fmt.Errorf("session %s references missing child %d", sessionID, childID)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Confirmation{Child: *child, ProgramID: programID, StationID: stationID, CheckinTime: now}, nil
}

// classifySession distinguishes the rejection reasons for logging; the client
// sees them merged.
func (r *Repository) classifySession(ctx context.Context, sessionID string, now time.Time) error {
	row := r.db.QueryRowContext(ctx, `
		SELECT confirmed, expires_at FROM checkin_sessions WHERE session_id = $1
	`, sessionID)
	var confirmed bool
	var expiresAt time.Time
	if err := row.Scan(&confirmed, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionMissing
		}
		return err
	}
	if confirmed {
		return ErrSessionConfirmed
	}
	if !expiresAt.After(now) {
		return ErrSessionExpired
	}
	// The row was free again by the time we looked: a concurrent confirm
	// committed between our UPDATE and this read.
	return ErrSessionConfirmed
}

// InsertAttendance writes a direct (session-less) attendance row.
func (r *Repository) InsertAttendance(ctx context.Context, a Attendance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (child_id, program_id, station_id, checkin_time, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ChildID, a.ProgramID, a.StationID, a.CheckinTime, a.CreatedBy)
	return err
}

// RegisterChild creates the family, parent, child and QR code rows in one
// transaction and returns the new child id.
func (r *Repository) RegisterChild(ctx context.Context, reg Registration) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var familyID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO families (family_name) VALUES ($1) RETURNING id
	`, reg.FamilyName).Scan(&familyID); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO parents (family_id, first_name, last_name, phone, email, relationship)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, familyID, reg.Parent.FirstName, reg.Parent.LastName, reg.Parent.Phone, reg.Parent.Email, reg.Parent.Relationship); err != nil {
		return 0, err
	}

	var childID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO children (family_id, first_name, last_name, birth_date, allergies, medications, special_notes, medical_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, familyID, reg.Child.FirstName, reg.Child.LastName, reg.Child.BirthDate,
		reg.Child.Allergies, reg.Child.Medications, reg.Child.SpecialNotes, reg.Child.MedicalNotes).Scan(&childID); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO qr_codes (child_id, qr_value) VALUES ($1, $2)
	`, childID, reg.QRValue); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return childID, nil
}

// SearchChildren finds active children whose first or last name matches.
func (r *Repository) SearchChildren(ctx context.Context, query string, limit int) ([]ChildSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.first_name, c.last_name, f.family_name
		FROM children c
		JOIN families f ON c.family_id = f.id
		WHERE c.active = TRUE AND (c.first_name ILIKE $1 OR c.last_name ILIKE $1)
		ORDER BY c.last_name, c.first_name
		LIMIT $2
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ChildSummary
	for rows.Next() {
		var cs ChildSummary
		if err := rows.Scan(&cs.ID, &cs.FirstName, &cs.LastName, &cs.FamilyName); err != nil {
			return nil, err
		}
		res = append(res, cs)
	}
	return res, rows.Err()
}
