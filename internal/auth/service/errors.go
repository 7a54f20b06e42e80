package service

import (
	"errors"

	"github.com/aussiebroadwan/farmgate/pkg/jwtx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrSessionExpired     = errors.New("session_expired")
	ErrInvalidCode        = errors.New("invalid_code")
	ErrTooManyAttempts    = errors.New("too_many_attempts")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrConflict           = errors.New("conflict")

	// ErrInvalidToken covers bad signature, expiry, malformed input and the
	// wrong token type.
	ErrInvalidToken = jwtx.ErrInvalidToken
)
