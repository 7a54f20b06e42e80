package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
	"github.com/aussiebroadwan/farmgate/internal/auth/store"
	"github.com/aussiebroadwan/farmgate/pkg/cryptox"
	"github.com/aussiebroadwan/farmgate/pkg/jwtx"
	"github.com/aussiebroadwan/farmgate/pkg/slogx"
)

// MaxOTPAttempts is how many wrong codes a pending session tolerates before it
// is discarded and the login must restart from the password.
const MaxOTPAttempts = 5

// Challenge is returned while a login is waiting on its one-time code.
type Challenge struct {
	PendingSessionID string
	ExpiresIn        time.Duration

	// OTPCode is only set when the handshake is configured to expose codes.
	OTPCode string
}

// Result is a completed login or impersonation.
type Result struct {
	Tokens jwtx.Pair
	User   domain.User
	Actor  string
}

// AuthHandshake runs the two step login: password, then one-time code.
type AuthHandshake struct {
	Store    store.Store
	OTP      *OTPChallengeStore
	Sessions *PendingSessionStore
	Tokens   *jwtx.TokenIssuer
	Notifier Notifier

	// ExposeOTP returns the raw code to the caller. Never enable in production.
	ExposeOTP bool
}

// Start checks the password for identifier. Bad credentials create no state.
func (h *AuthHandshake) Start(ctx context.Context, identifier, secret string) (Challenge, error) {
	l := slogx.FromContext(ctx).With("identifier", slogx.MaskIdentifier(identifier))

	if identifier == "" || secret == "" {
		return Challenge{}, ErrInvalidCredentials
	}

	user, err := h.Store.Users().GetUserByIdentifier(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		_ = cryptox.BurnPasswordCheck(secret)
		l.Info("login rejected", "reason", "unknown_identifier")
		return Challenge{}, ErrInvalidCredentials
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("load user: %w", err)
	}

	if err := cryptox.VerifyPassword(secret, user.PasswordHash); err != nil {
		l.Info("login rejected", "reason", "bad_password", "user_id", user.ID)
		return Challenge{}, ErrInvalidCredentials
	}

	ps, err := h.Sessions.Create(ctx, user.Identifier, user.ID)
	if err != nil {
		return Challenge{}, err
	}

	ch, err := h.sendCode(ctx, ps)
	if err != nil {
		_ = h.Sessions.Delete(ctx, ps.ID)
		return Challenge{}, err
	}

	l.Info("login awaiting otp", "user_id", user.ID)
	return ch, nil
}

// Resend issues a fresh code for an existing pending session, replacing the
// previous one. The session's own expiry is unchanged.
func (h *AuthHandshake) Resend(ctx context.Context, pendingID string) (Challenge, error) {
	ps, err := h.Sessions.Get(ctx, pendingID)
	if err != nil {
		return Challenge{}, err
	}
	return h.sendCode(ctx, ps)
}

// Verify completes a login. A wrong code leaves the session usable until
// MaxOTPAttempts is reached; a session can complete at most once.
func (h *AuthHandshake) Verify(ctx context.Context, pendingID, code string) (Result, error) {
	l := slogx.FromContext(ctx)

	ps, err := h.Sessions.Get(ctx, pendingID)
	if err != nil {
		return Result{}, err
	}

	ok, err := h.OTP.Verify(ctx, ps.Identifier, code)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		attempts, err := h.Sessions.RecordFailure(ctx, ps)
		if err != nil {
			return Result{}, err
		}
		if attempts >= MaxOTPAttempts {
			_ = h.Sessions.Delete(ctx, ps.ID)
			_ = h.OTP.Invalidate(ctx, ps.Identifier)
			l.Warn("login abandoned after repeated wrong codes",
				"identifier", slogx.MaskIdentifier(ps.Identifier),
				"attempts", attempts,
			)
			return Result{}, ErrTooManyAttempts
		}
		l.Info("otp rejected", "identifier", slogx.MaskIdentifier(ps.Identifier), "attempts", attempts)
		return Result{}, ErrInvalidCode
	}

	// A concurrent verify may have won the session between Get and here.
	ps, err = h.Sessions.Take(ctx, pendingID)
	if err != nil {
		return Result{}, err
	}

	user, err := h.loadUser(ctx, ps)
	if err != nil {
		return Result{}, err
	}

	pair, err := h.Tokens.Issue(jwtx.Identity{UserID: user.ID, Role: user.Role.String()})
	if err != nil {
		return Result{}, err
	}

	l.Info("login completed", "user_id", user.ID, "role", user.Role)
	return Result{Tokens: pair, User: user}, nil
}

func (h *AuthHandshake) sendCode(ctx context.Context, ps domain.PendingSession) (Challenge, error) {
	code, expiresAt, err := h.OTP.Issue(ctx, ps.Identifier)
	if err != nil {
		return Challenge{}, err
	}

	if h.Notifier != nil {
		if err := h.Notifier.SendOTP(ctx, ps.Identifier, code, expiresAt); err != nil {
			_ = h.OTP.Invalidate(ctx, ps.Identifier)
			return Challenge{}, fmt.Errorf("deliver otp: %w", err)
		}
	}

	ch := Challenge{
		PendingSessionID: ps.ID,
		ExpiresIn:        ps.ExpiresAt.Sub(h.Sessions.Now()),
	}
	if h.ExposeOTP {
		ch.OTPCode = code
	}
	return ch, nil
}

func (h *AuthHandshake) loadUser(ctx context.Context, ps domain.PendingSession) (domain.User, error) {
	var (
		user domain.User
		err  error
	)
	if ps.PreboundUserID != "" {
		user, err = h.Store.Users().GetUserByID(ctx, ps.PreboundUserID)
	} else {
		user, err = h.Store.Users().GetUserByIdentifier(ctx, ps.Identifier)
	}
	if errors.Is(err, store.ErrNotFound) {
		// Deleted between password check and code entry.
		return domain.User{}, ErrSessionExpired
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
