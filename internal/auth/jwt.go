package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated covers malformed, badly signed and expired tokens alike;
// the caller never learns which check failed.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims represents the JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Signer issues and verifies signed, time-bounded access tokens.
type Signer struct {
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewSigner creates a Signer. There is no refresh mechanism; callers
// re-authenticate after ttl.
func NewSigner(key, issuer string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Signer{key: []byte(key), issuer: issuer, ttl: ttl}
}

// Issue signs an access token for the given identity.
func (s *Signer) Issue(username, role string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Verify validates a token and returns its claims.
func (s *Signer) Verify(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	})
	if err != nil {
		return Claims{}, ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrUnauthenticated
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return Claims{}, ErrUnauthenticated
	}
	return *claims, nil
}
