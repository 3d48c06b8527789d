package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials covers unknown usernames, deactivated volunteers
	// and wrong passwords without distinguishing them.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidOTP is returned for a TOTP code that does not match.
	ErrInvalidOTP = errors.New("invalid 2fa code")
	// ErrUsernameTaken is returned when creating a volunteer with an existing username.
	ErrUsernameTaken = errors.New("username already exists")
)

// Volunteer is an identity record. Removed volunteers keep their row with
// active=false and can never log in. A volunteer with Enabled2FA always has
// a non-nil TOTPSecret.
type Volunteer struct {
	ID           int64
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	TOTPSecret   *string
	Enabled2FA   bool
	Active       bool
}

// VolunteerPatch names the mutable profile fields. Nil fields are left untouched.
type VolunteerPatch struct {
	FirstName    *string
	LastName     *string
	Role         *string
	PasswordHash *string
}

// VolunteerStore persists volunteer records.
type VolunteerStore interface {
	// ByUsername returns the active volunteer with this username, or nil.
	ByUsername(ctx context.Context, username string) (*Volunteer, error)
	Create(ctx context.Context, v Volunteer) (int64, error)
	// SetTOTP atomically updates the secret and the enabled flag together.
	SetTOTP(ctx context.Context, username, secret string, enabled bool) error
	Update(ctx context.Context, username string, patch VolunteerPatch) error
	Deactivate(ctx context.Context, username string) error
}

// LoginResult is the outcome of a login or enrollment attempt. A token is
// present only once the volunteer has cleared both factors.
type LoginResult struct {
	Token       string
	ExpiresAt   time.Time
	Requires2FA bool
	Setup2FA    bool
	TOTPSecret  string
	OtpauthURL  string
}

// Service verifies credentials and enforces TOTP enrollment at first login.
type Service struct {
	store  VolunteerStore
	signer *Signer
	issuer string
}

// NewService creates an auth service. issuer labels provisioned TOTP secrets
// in authenticator apps.
func NewService(store VolunteerStore, signer *Signer, issuer string) *Service {
	return &Service{store: store, signer: signer, issuer: issuer}
}

// Login validates a password and, when 2FA is enabled, a TOTP code.
//
// A volunteer that has not enrolled in 2FA yet gets a freshly generated
// secret back (persisted with enabled=false) and no token; enrollment must be
// completed via CompleteEnrollment before any token is issued.
func (s *Service) Login(ctx context.Context, username, password, otpCode string) (*LoginResult, error) {
	v, err := s.store.ByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup volunteer: %w", err)
	}
	if v == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(v.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	if !v.Enabled2FA {
		key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: v.Username})
		if err != nil {
			return nil, fmt.Errorf("generate totp secret: %w", err)
		}
		if err := s.store.SetTOTP(ctx, v.Username, key.Secret(), false); err != nil {
			return nil, fmt.Errorf("persist totp secret: %w", err)
		}
		return &LoginResult{Setup2FA: true, TOTPSecret: key.Secret(), OtpauthURL: key.URL()}, nil
	}

	if otpCode == "" {
		return &LoginResult{Requires2FA: true}, nil
	}
	if v.TOTPSecret == nil || !totp.Validate(otpCode, *v.TOTPSecret) {
		return nil, ErrInvalidOTP
	}
	return s.issue(v.Username, v.Role)
}

// CompleteEnrollment verifies a TOTP code against the secret the volunteer was
// shown at login and, on match, flips 2FA on and issues a token. On mismatch
// the stored secret is left untouched so the same QR code remains valid.
func (s *Service) CompleteEnrollment(ctx context.Context, username, secret, otpCode string) (*LoginResult, error) {
	v, err := s.store.ByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup volunteer: %w", err)
	}
	if v == nil {
		return nil, ErrInvalidCredentials
	}
	if secret == "" || !totp.Validate(otpCode, secret) {
		return nil, ErrInvalidOTP
	}
	if err := s.store.SetTOTP(ctx, v.Username, secret, true); err != nil {
		return nil, fmt.Errorf("enable 2fa: %w", err)
	}
	return s.issue(v.Username, v.Role)
}

// CreateVolunteer registers a new volunteer with a bcrypt-hashed password and
// 2FA not yet enrolled.
func (s *Service) CreateVolunteer(ctx context.Context, username, password, firstName, lastName, role string) (int64, error) {
	if role == "" {
		role = "volunteer"
	}
	existing, err := s.store.ByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("lookup volunteer: %w", err)
	}
	if existing != nil {
		return 0, ErrUsernameTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	return s.store.Create(ctx, Volunteer{
		Username:     username,
		PasswordHash: string(hash),
		FirstName:    firstName,
		LastName:     lastName,
		Role:         role,
		Active:       true,
	})
}

// UpdateVolunteer applies a profile patch. A plain-text password, if present,
// is hashed here before it reaches the store.
func (s *Service) UpdateVolunteer(ctx context.Context, username string, firstName, lastName, role, password *string) error {
	patch := VolunteerPatch{FirstName: firstName, LastName: lastName, Role: role}
	if password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		hashed := string(hash)
		patch.PasswordHash = &hashed
	}
	return s.store.Update(ctx, username, patch)
}

// RemoveVolunteer soft-deletes a volunteer.
func (s *Service) RemoveVolunteer(ctx context.Context, username string) error {
	return s.store.Deactivate(ctx, username)
}

func (s *Service) issue(username, role string) (*LoginResult, error) {
	token, exp, err := s.signer.Issue(username, role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: exp}, nil
}
