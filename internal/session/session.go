// Package session implements the stateless bearer-token lifecycle: minting
// opaque subjects, signing session tokens, and validating them on protected
// routes. Tokens are never stored server-side; validity is a pure function of
// signature and expiry.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Lifetime is the fixed session token lifetime. Expired tokens require a
// fresh verification; there is no silent renewal.
const Lifetime = 7 * 24 * time.Hour

// RefreshMargin is the forward margin clients apply when deciding whether to
// proactively re-verify. The verifier itself compares expiry strictly.
const RefreshMargin = 60 * time.Second

var (
	// ErrMissingSecret is returned when the signing secret is not configured.
	ErrMissingSecret = errors.New("token signing secret is not configured")

	// ErrInvalidToken is returned when a token fails signature or claims validation.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("session token has expired")

	// ErrSubjectBlocked is returned when the token subject is on the denylist.
	ErrSubjectBlocked = errors.New("subject is blocked")
)

// Claims are the registered claims carried by a session token. The subject is
// an opaque identifier minted at issuance; it carries no personal data and no
// linkage to prior issuances.
type Claims struct {
	jwt.RegisteredClaims
}

// Issuer mints subjects and signs session tokens.
type Issuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewIssuer creates an Issuer signing with the given secret. A zero lifetime
// falls back to the default 7 days.
func NewIssuer(secret string, lifetime time.Duration) *Issuer {
	if lifetime <= 0 {
		lifetime = Lifetime
	}
	return &Issuer{secret: []byte(secret), lifetime: lifetime, now: time.Now}
}

// WithClock overrides the issuer's time source. Used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// MintSubject generates a fresh opaque subject identifier. Each issuance gets
// a new one, so identities are never linkable across verifications.
func MintSubject() string {
	return uuid.NewString()
}

// Issue signs a session token for the subject. Returns the compact token and
// its expiry.
func (i *Issuer) Issue(subject string) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.lifetime)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verifier validates session tokens on protected routes.
type Verifier struct {
	secret  []byte
	blocked func(subject string) bool
	now     func() time.Time
}

// NewVerifier creates a Verifier for tokens signed with the given secret.
// blocked is an optional denylist check consulted after signature validation;
// pass nil when no denylist is configured.
func NewVerifier(secret string, blocked func(subject string) bool) *Verifier {
	return &Verifier{secret: []byte(secret), blocked: blocked, now: time.Now}
}

// WithClock overrides the verifier's time source. Used by tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the token's signature and expiry and returns its subject.
// Expiry comparison is strict; proactive refresh ahead of RefreshMargin is
// the caller's concern.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrMissingSecret
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if v.blocked != nil && v.blocked(claims.Subject) {
		return "", ErrSubjectBlocked
	}
	return claims.Subject, nil
}
