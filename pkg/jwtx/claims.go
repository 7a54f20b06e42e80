package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token TTLs. Access tokens are short-lived since there is no
// revocation list; expiry is the only way a token stops working.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Token types carried in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims are the claims carried by both access and refresh tokens. Refresh
// tokens only ever populate the registered claims and Type.
type Claims struct {
	jwt.RegisteredClaims

	// Role of the subject at issue time, e.g. "ADMIN", "FARMER", "CUSTOMER".
	Role string `json:"role,omitempty"`

	// Type is either TypeAccess or TypeRefresh.
	Type string `json:"typ"`

	// Actor is the subject of the administrator acting on behalf of Subject
	// while impersonating. Empty for ordinary logins.
	Actor string `json:"act,omitempty"`
}

// NewAccessClaims builds access-token claims for subject.
func NewAccessClaims(subject, role, actor string, ttl time.Duration, issuer string, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Role:  role,
		Type:  TypeAccess,
		Actor: actor,
	}
}

// NewRefreshClaims builds refresh-token claims. Role is deliberately left out,
// it is reloaded from the user record on every refresh.
func NewRefreshClaims(subject string, ttl time.Duration, issuer string, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Type: TypeRefresh,
	}
}

// NewJTI returns a random identifier for the "jti" claim.
func NewJTI() string {
	return uuid.NewString()
}

// IsImpersonated reports whether the token was minted for an administrator
// acting as another user.
func (c *Claims) IsImpersonated() bool {
	return c.Actor != ""
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateType ensures the token was minted for the expected purpose. A
// missing typ never matches.
func (c *Claims) ValidateType(expected string) error {
	if c.Type == "" || c.Type != expected {
		return ErrWrongType
	}
	return nil
}

// ValidateExpiryAt ensures the token hasn't expired (exp) and isn't before nbf
// at the given instant, allowing leeway for clock skew.
func (c *Claims) ValidateExpiryAt(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}

	if now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}

// ValidateExpiry is ValidateExpiryAt against the wall clock with no leeway.
func (c *Claims) ValidateExpiry() error {
	return c.ValidateExpiryAt(time.Now().UTC(), 0)
}
