package jwtx

import (
	"errors"
	"fmt"
	"time"
)

// Identity is who a token pair is minted for.
type Identity struct {
	UserID string
	Role   string

	// Actor is set when an administrator is acting as UserID.
	Actor string
}

// Pair is an access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string

	// AccessExpiresIn is the lifetime of AccessToken.
	AccessExpiresIn time.Duration
}

// IssuerConfig configures a TokenIssuer. Zero TTLs fall back to the defaults.
type IssuerConfig struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
	Now        func() time.Time
}

// TokenIssuer mints and verifies access and refresh tokens with one shared
// secret. Access and refresh tokens are never interchangeable.
type TokenIssuer struct {
	signer   Signer
	verifier *HS256Verifier
	cfg      IssuerConfig
}

// NewTokenIssuer builds a TokenIssuer from an HMAC secret.
func NewTokenIssuer(secret []byte, cfg IssuerConfig) (*TokenIssuer, error) {
	signer, err := NewSignerHS256(secret)
	if err != nil {
		return nil, err
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &TokenIssuer{
		signer: signer,
		verifier: NewVerifierHS256(secret, VerifyOptions{
			Issuer: cfg.Issuer,
			Leeway: cfg.Leeway,
			Now:    cfg.Now,
		}),
		cfg: cfg,
	}, nil
}

// AccessTTL reports the configured access token lifetime.
func (ti *TokenIssuer) AccessTTL() time.Duration { return ti.cfg.AccessTTL }

// Issue mints a fresh access/refresh pair for id.
func (ti *TokenIssuer) Issue(id Identity) (Pair, error) {
	access, err := ti.IssueAccess(id)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := ti.signer.Sign(NewRefreshClaims(id.UserID, ti.cfg.RefreshTTL, ti.cfg.Issuer, ti.cfg.Now()))
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return Pair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresIn: ti.cfg.AccessTTL,
	}, nil
}

// IssueAccess mints only an access token, used on refresh.
func (ti *TokenIssuer) IssueAccess(id Identity) (string, error) {
	if id.UserID == "" {
		return "", errors.New("jwtx: identity has no user id")
	}

	claims := NewAccessClaims(id.UserID, id.Role, id.Actor, ti.cfg.AccessTTL, ti.cfg.Issuer, ti.cfg.Now())
	token, err := ti.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// VerifyAccess validates an access token. Refresh tokens are rejected.
func (ti *TokenIssuer) VerifyAccess(token string) (Claims, error) {
	claims, err := ti.verifier.Verify(token)
	if err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateType(TypeAccess); err != nil {
		return Claims{}, invalid(err)
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token and returns its subject. Access
// tokens and tokens with no typ are rejected.
func (ti *TokenIssuer) VerifyRefresh(token string) (string, error) {
	claims, err := ti.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	if err := claims.ValidateType(TypeRefresh); err != nil {
		return "", invalid(err)
	}
	return claims.Subject, nil
}

// Verify satisfies Verifier by checking access tokens, so a TokenIssuer can
// be handed straight to the authn middleware.
func (ti *TokenIssuer) Verify(token string) (Claims, error) {
	return ti.VerifyAccess(token)
}
