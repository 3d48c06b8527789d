package auth

import (
	"testing"
	"time"
)

func TestSignerIssueAndVerify(t *testing.T) {
	signer := NewSigner("test-key", "kids-checkin", time.Minute)

	token, exp, err := signer.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if remaining := time.Until(exp); remaining <= 0 || remaining > time.Minute {
		t.Errorf("expiry %v not within the configured ttl", exp)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "admin")
	}
	if claims.Role != "admin" {
		t.Errorf("Role = %q, want %q", claims.Role, "admin")
	}
}

func TestSignerVerifyRejections(t *testing.T) {
	signer := NewSigner("test-key", "kids-checkin", time.Minute)

	otherKey := NewSigner("other-key", "kids-checkin", time.Minute)
	otherIssuer := NewSigner("test-key", "someone-else", time.Minute)
	expired := &Signer{key: []byte("test-key"), issuer: "kids-checkin", ttl: -time.Minute}

	badSignature, _, err := otherKey.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	wrongIssuer, _, err := otherIssuer.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	expiredToken, _, err := expired.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"malformed", "not-a-token"},
		{"empty", ""},
		{"bad signature", badSignature},
		{"wrong issuer", wrongIssuer},
		{"expired", expiredToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := signer.Verify(tt.token); err != ErrUnauthenticated {
				t.Errorf("Verify(%s) error = %v, want ErrUnauthenticated", tt.name, err)
			}
		})
	}
}
