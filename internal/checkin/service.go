// Package checkin implements the kiosk check-in flow: a QR scan opens a
// short-lived session, a volunteer confirms it on a tablet, and exactly one
// attendance row is written per session.
package checkin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ChiefMcGill/Attendance-Tracker-for-Kids-Ministry/internal/audit"
)

var (
	// ErrInvalidStation rejects a station id outside the configured set.
	ErrInvalidStation = errors.New("invalid station id")
	// ErrChildNotFound signals an unregistered QR value or unknown child id.
	ErrChildNotFound = errors.New("child not found")

	// The three session rejections below surface to the client as one merged
	// message; only logs distinguish them.
	ErrSessionMissing   = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionConfirmed = errors.New("session already confirmed")
)

// IsSessionRejection reports whether err is one of the session rejections.
func IsSessionRejection(err error) bool {
	return errors.Is(err, ErrSessionMissing) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionConfirmed)
}

// Child is the profile shown to the confirming volunteer.
type Child struct {
	ID           int64   `json:"id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	BirthDate    string  `json:"birth_date"`
	FamilyName   string  `json:"family_name"`
	Allergies    *string `json:"allergies,omitempty"`
	Medications  *string `json:"medications,omitempty"`
	SpecialNotes *string `json:"special_notes,omitempty"`
	MedicalNotes *string `json:"medical_notes,omitempty"`
}

// FullName returns "First Last".
func (c *Child) FullName() string { return c.FirstName + " " + c.LastName }

// ChildSummary is a search result row.
type ChildSummary struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	FamilyName string `json:"family_name"`
}

// Program is an age-banded ministry program.
type Program struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	MinAge *int   `json:"min_age"`
	MaxAge *int   `json:"max_age"`
}

// Session bridges a scan to a confirmation. Rows are kept for audit after
// expiry or confirmation; expiry is evaluated lazily against ExpiresAt.
type Session struct {
	SessionID string
	ChildID   int64
	ProgramID *int64
	StationID string
	DeviceID  string
	Confirmed bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Attendance is the durable check-in record. Immutable after creation.
type Attendance struct {
	ChildID     int64
	ProgramID   *int64
	StationID   string
	CheckinTime time.Time
	CreatedBy   string
}

// Confirmation identifies a completed check-in for downstream labeling.
type Confirmation struct {
	Child       Child
	ProgramID   *int64
	StationID   string
	CheckinTime time.Time
}

// Parent is a guardian contact captured at registration.
type Parent struct {
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Phone        string  `json:"phone"`
	Email        *string `json:"email"`
	Relationship string  `json:"relationship"`
}

// NewChild carries the child fields captured at registration.
type NewChild struct {
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	BirthDate    string  `json:"birth_date"`
	Allergies    *string `json:"allergies"`
	Medications  *string `json:"medications"`
	SpecialNotes *string `json:"special_notes"`
	MedicalNotes *string `json:"medical_notes"`
}

// Registration bundles a new family, parent and child with the QR value
// minted for the child.
type Registration struct {
	FamilyName string
	Parent     Parent
	Child      NewChild
	QRValue    string
}

// Store persists sessions, attendance and the child/program records the flow
// reads. ConfirmSession is the single compare-and-swap primitive the
// exactly-once guarantee rests on: it must flip confirmed=false to true and
// insert the attendance row inside one transaction, and report which
// rejection applied when the flip matched no row.
type Store interface {
	ChildByQR(ctx context.Context, qrValue string) (*Child, error)
	ChildByID(ctx context.Context, id int64) (*Child, error)
	ActivePrograms(ctx context.Context) ([]Program, error)
	CreateSession(ctx context.Context, s Session) error
	PendingSession(ctx context.Context, sessionID string, now time.Time) (*Child, error)
	ConfirmSession(ctx context.Context, sessionID string, programID *int64, stationID, createdBy string, now time.Time) (*Confirmation, error)
	InsertAttendance(ctx context.Context, a Attendance) error
	RegisterChild(ctx context.Context, reg Registration) (int64, error)
	SearchChildren(ctx context.Context, query string, limit int) ([]ChildSummary, error)
}

// ScanResult is returned to the kiosk after a successful scan.
type ScanResult struct {
	SessionID string
	Child     *Child
	Programs  []Program
	ExpiresAt time.Time
}

// SessionDetail feeds the confirmation tablet.
type SessionDetail struct {
	SessionID string
	Child     Child
	Programs  []Program
}

// Service coordinates scans, confirmations and direct check-ins. It holds no
// locks across requests; all races are settled by the store's conditional
// update.
type Service struct {
	store      Store
	stations   map[string]struct{}
	sessionTTL time.Duration
	events     audit.Publisher
	now        func() time.Time
}

// NewService creates a coordinator restricted to the given station ids.
func NewService(store Store, stationIDs []string, sessionTTL time.Duration, events audit.Publisher) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 5 * time.Minute
	}
	stations := make(map[string]struct{}, len(stationIDs))
	for _, id := range stationIDs {
		stations[id] = struct{}{}
	}
	return &Service{
		store:      store,
		stations:   stations,
		sessionTTL: sessionTTL,
		events:     events,
		now:        time.Now,
	}
}

// StartScan resolves a QR value to a child and opens a check-in session.
// Returns the child profile and active programs sorted by minimum age.
func (s *Service) StartScan(ctx context.Context, qrValue, stationID, deviceID string) (*ScanResult, error) {
	if !s.validStation(stationID) {
		s.warn(ctx, "scan", "invalid station id: "+stationID, "device: "+deviceID)
		return nil, ErrInvalidStation
	}

	child, err := s.store.ChildByQR(ctx, qrValue)
	if err != nil {
		return nil, fmt.Errorf("lookup child by qr: %w", err)
	}
	if child == nil {
		s.warn(ctx, "scan", "qr code not found", fmt.Sprintf("qr: %s, station: %s", truncate(qrValue, 10), stationID))
		return nil, ErrChildNotFound
	}

	programs, err := s.store.ActivePrograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}

	sessionID, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := s.now()
	sess := Session{
		SessionID: sessionID,
		ChildID:   child.ID,
		StationID: stationID,
		DeviceID:  deviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if len(programs) > 0 {
		pid := programs[0].ID
		sess.ProgramID = &pid
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.info(ctx, "scan", "qr code scanned", fmt.Sprintf("child: %s, session: %s", child.FullName(), sessionID))
	return &ScanResult{SessionID: sessionID, Child: child, Programs: programs, ExpiresAt: sess.ExpiresAt}, nil
}

// ConfirmScan closes a pending session and writes its attendance row. When
// two confirmations race on one session, the store's conditional update lets
// exactly one through; the loser gets ErrSessionConfirmed.
func (s *Service) ConfirmScan(ctx context.Context, sessionID, stationID string, programID *int64, createdBy string) (*Confirmation, error) {
	if !s.validStation(stationID) {
		s.warn(ctx, "checkin", "invalid station id: "+stationID, "session: "+sessionID)
		return nil, ErrInvalidStation
	}
	conf, err := s.store.ConfirmSession(ctx, sessionID, programID, stationID, createdBy, s.now())
	if err != nil {
		if IsSessionRejection(err) {
			s.warn(ctx, "checkin", "session rejected: "+err.Error(), "session: "+sessionID)
			return nil, err
		}
		return nil, fmt.Errorf("confirm session: %w", err)
	}
	s.info(ctx, "checkin", "check-in confirmed", fmt.Sprintf("child: %s, volunteer: %s", conf.Child.FullName(), createdBy))
	return conf, nil
}

// DirectCheckin records attendance without a scan session, for children found
// via search by an authenticated volunteer.
func (s *Service) DirectCheckin(ctx context.Context, childID int64, programID *int64, stationID, createdBy string) (*Confirmation, error) {
	if !s.validStation(stationID) {
		s.warn(ctx, "checkin", "invalid station id: "+stationID, "")
		return nil, ErrInvalidStation
	}
	child, err := s.store.ChildByID(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("lookup child: %w", err)
	}
	if child == nil {
		s.warn(ctx, "checkin", "direct check-in for unknown child", fmt.Sprintf("child_id: %d", childID))
		return nil, ErrChildNotFound
	}

	att := Attendance{
		ChildID:     childID,
		ProgramID:   programID,
		StationID:   stationID,
		CheckinTime: s.now(),
		CreatedBy:   createdBy,
	}
	if err := s.store.InsertAttendance(ctx, att); err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}

	s.info(ctx, "checkin", "direct check-in", fmt.Sprintf("child: %s, volunteer: %s", child.FullName(), createdBy))
	return &Confirmation{Child: *child, ProgramID: programID, StationID: stationID, CheckinTime: att.CheckinTime}, nil
}

// SessionInfo returns the pending session for the confirmation tablet.
// Missing, expired and already-confirmed sessions are indistinguishable here.
func (s *Service) SessionInfo(ctx context.Context, sessionID string) (*SessionDetail, error) {
	child, err := s.store.PendingSession(ctx, sessionID, s.now())
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if child == nil {
		return nil, ErrSessionMissing
	}
	programs, err := s.store.ActivePrograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return &SessionDetail{SessionID: sessionID, Child: *child, Programs: programs}, nil
}

// Programs lists active programs sorted by minimum age.
func (s *Service) Programs(ctx context.Context) ([]Program, error) {
	return s.store.ActivePrograms(ctx)
}

// SearchChildren finds active children by name. Queries under two characters
// return nothing.
func (s *Service) SearchChildren(ctx context.Context, query string) ([]ChildSummary, error) {
	if len(query) < 2 {
		return nil, nil
	}
	return s.store.SearchChildren(ctx, query, 10)
}

// RegisterChild creates a family, parent and child, mints a QR value and
// records the first attendance immediately.
func (s *Service) RegisterChild(ctx context.Context, reg Registration, programID *int64, stationID, createdBy string) (int64, string, error) {
	if !s.validStation(stationID) {
		return 0, "", ErrInvalidStation
	}
	reg.QRValue = "KID-" + uuid.NewString()
	childID, err := s.store.RegisterChild(ctx, reg)
	if err != nil {
		return 0, "", fmt.Errorf("register child: %w", err)
	}
	att := Attendance{
		ChildID:     childID,
		ProgramID:   programID,
		StationID:   stationID,
		CheckinTime: s.now(),
		CreatedBy:   createdBy,
	}
	if err := s.store.InsertAttendance(ctx, att); err != nil {
		return 0, "", fmt.Errorf("insert attendance: %w", err)
	}
	s.info(ctx, "register", "new child registered and checked in",
		fmt.Sprintf("child: %s %s, volunteer: %s", reg.Child.FirstName, reg.Child.LastName, createdBy))
	return childID, reg.QRValue, nil
}

func (s *Service) validStation(id string) bool {
	_, ok := s.stations[id]
	return ok
}

func (s *Service) info(ctx context.Context, category, message, details string) {
	if s.events != nil {
		s.events.Publish(ctx, audit.LevelInfo, category, message, details)
	}
}

func (s *Service) warn(ctx context.Context, category, message, details string) {
	if s.events != nil {
		s.events.Publish(ctx, audit.LevelWarning, category, message, details)
	}
}

// newSessionID returns 16 bytes of randomness, URL-safe encoded.
func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
