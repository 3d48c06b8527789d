package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

type fakeVolunteerStore struct {
	volunteers map[string]*Volunteer
	nextID     int64
}

func newFakeVolunteerStore() *fakeVolunteerStore {
	return &fakeVolunteerStore{volunteers: make(map[string]*Volunteer)}
}

func (f *fakeVolunteerStore) ByUsername(_ context.Context, username string) (*Volunteer, error) {
	v, ok := f.volunteers[username]
	if !ok || !v.Active {
		return nil, nil
	}
	clone := *v
	return &clone, nil
}

func (f *fakeVolunteerStore) Create(_ context.Context, v Volunteer) (int64, error) {
	f.nextID++
	v.ID = f.nextID
	f.volunteers[v.Username] = &v
	return v.ID, nil
}

func (f *fakeVolunteerStore) SetTOTP(_ context.Context, username, secret string, enabled bool) error {
	v := f.volunteers[username]
	v.TOTPSecret = &secret
	v.Enabled2FA = enabled
	return nil
}

func (f *fakeVolunteerStore) Update(_ context.Context, username string, patch VolunteerPatch) error {
	v := f.volunteers[username]
	if patch.FirstName != nil {
		v.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		v.LastName = *patch.LastName
	}
	if patch.Role != nil {
		v.Role = *patch.Role
	}
	if patch.PasswordHash != nil {
		v.PasswordHash = *patch.PasswordHash
	}
	return nil
}

func (f *fakeVolunteerStore) Deactivate(_ context.Context, username string) error {
	f.volunteers[username].Active = false
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeVolunteerStore) {
	t.Helper()
	store := newFakeVolunteerStore()
	signer := NewSigner("test-key", "kids-checkin", 30*time.Minute)
	svc := NewService(store, signer, "kids-checkin")

	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if _, err := store.Create(context.Background(), Volunteer{
		Username:     "admin",
		PasswordHash: string(hash),
		FirstName:    "Admin",
		LastName:     "User",
		Role:         "admin",
		Active:       true,
	}); err != nil {
		t.Fatalf("seed volunteer: %v", err)
	}
	return svc, store
}

func TestLoginInvalidCredentials(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if err := store.Deactivate(ctx, "admin"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"unknown username", "nobody", "admin123"},
		{"deactivated volunteer", "admin", "admin123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Login(ctx, tt.username, tt.password, ""); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Login(context.Background(), "admin", "wrong", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginForcesEnrollment(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "admin", "admin123", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !res.Setup2FA {
		t.Fatal("Setup2FA = false, want true for an unenrolled volunteer")
	}
	if res.Token != "" {
		t.Error("no token may be issued before enrollment completes")
	}
	if res.TOTPSecret == "" {
		t.Fatal("TOTPSecret is empty")
	}

	v := store.volunteers["admin"]
	if v.Enabled2FA {
		t.Error("enabled_2fa flipped before enrollment was confirmed")
	}
	if v.TOTPSecret == nil || *v.TOTPSecret != res.TOTPSecret {
		t.Error("candidate secret was not persisted")
	}
}

func TestCompleteEnrollment(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	setup, err := svc.Login(ctx, "admin", "admin123", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// Wrong code: state must stay retryable with the same secret.
	if _, err := svc.CompleteEnrollment(ctx, "admin", setup.TOTPSecret, "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("CompleteEnrollment() error = %v, want ErrInvalidOTP", err)
	}
	if store.volunteers["admin"].Enabled2FA {
		t.Fatal("enabled_2fa flipped on a failed enrollment")
	}

	code, err := totp.GenerateCode(setup.TOTPSecret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	res, err := svc.CompleteEnrollment(ctx, "admin", setup.TOTPSecret, code)
	if err != nil {
		t.Fatalf("CompleteEnrollment() error = %v", err)
	}
	if res.Token == "" {
		t.Fatal("no token issued after successful enrollment")
	}
	if !store.volunteers["admin"].Enabled2FA {
		t.Fatal("enabled_2fa not persisted")
	}
}

func TestLoginAfterEnrollment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	setup, err := svc.Login(ctx, "admin", "admin123", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	code, err := totp.GenerateCode(setup.TOTPSecret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if _, err := svc.CompleteEnrollment(ctx, "admin", setup.TOTPSecret, code); err != nil {
		t.Fatalf("CompleteEnrollment() error = %v", err)
	}

	// Password alone no longer yields a token.
	res, err := svc.Login(ctx, "admin", "admin123", "")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !res.Requires2FA || res.Token != "" {
		t.Errorf("Login without otp = %+v, want Requires2FA and no token", res)
	}

	if _, err := svc.Login(ctx, "admin", "admin123", "000000"); !errors.Is(err, ErrInvalidOTP) {
		t.Errorf("Login with bad otp error = %v, want ErrInvalidOTP", err)
	}

	code, err = totp.GenerateCode(setup.TOTPSecret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	res, err = svc.Login(ctx, "admin", "admin123", code)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Token == "" {
		t.Fatal("no token issued for a valid password + otp")
	}

	claims, err := svc.signer.Verify(res.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "admin" || claims.Role != "admin" {
		t.Errorf("claims = %q/%q, want admin/admin", claims.Subject, claims.Role)
	}
}

func TestCreateVolunteer(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateVolunteer(ctx, "helper", "secret12", "Help", "Er", "")
	if err != nil {
		t.Fatalf("CreateVolunteer() error = %v", err)
	}
	if id == 0 {
		t.Error("id = 0, want a generated id")
	}
	v := store.volunteers["helper"]
	if v.Role != "volunteer" {
		t.Errorf("Role = %q, want the volunteer default", v.Role)
	}
	if v.PasswordHash == "secret12" {
		t.Error("password stored in plain text")
	}
	if v.Enabled2FA {
		t.Error("new volunteers must start unenrolled")
	}

	if _, err := svc.CreateVolunteer(ctx, "helper", "other", "H", "E", ""); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate CreateVolunteer() error = %v, want ErrUsernameTaken", err)
	}
}
