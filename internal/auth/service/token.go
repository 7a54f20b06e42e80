package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
	"github.com/aussiebroadwan/farmgate/internal/auth/store"
	"github.com/aussiebroadwan/farmgate/pkg/idx"
	"github.com/aussiebroadwan/farmgate/pkg/jwtx"
	"github.com/aussiebroadwan/farmgate/pkg/slogx"
)

type TokenService struct {
	Store  store.Store
	Tokens *jwtx.TokenIssuer
}

// Refresh mints a new access token from a refresh token. The role is read
// from the current user record, so role changes apply on the next refresh.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (string, time.Duration, error) {
	l := slogx.FromContext(ctx)

	sub, err := s.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		l.Debug("refresh token rejected", "err", err)
		return "", 0, ErrInvalidToken
	}

	user, err := s.Store.Users().GetUserByID(ctx, sub)
	if errors.Is(err, store.ErrNotFound) {
		return "", 0, ErrInvalidToken
	}
	if err != nil {
		return "", 0, fmt.Errorf("load user: %w", err)
	}

	access, err := s.Tokens.IssueAccess(jwtx.Identity{UserID: user.ID, Role: user.Role.String()})
	if err != nil {
		return "", 0, err
	}
	return access, s.Tokens.AccessTTL(), nil
}

// Impersonate issues a token pair for targetID on behalf of the caller
// described by claims. The caller must hold the ADMIN role, or already be
// impersonating on behalf of a user who still does. The access token records
// the original administrator as its actor.
func (s *TokenService) Impersonate(ctx context.Context, caller jwtx.Claims, targetID string) (Result, error) {
	l := slogx.FromContext(ctx)

	actor := caller.Subject
	if caller.IsImpersonated() {
		actor = caller.Actor
	}

	admin, err := s.Store.Users().GetUserByID(ctx, actor)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrForbidden
	}
	if err != nil {
		return Result{}, fmt.Errorf("load caller: %w", err)
	}
	if admin.Role != domain.RoleAdmin {
		return Result{}, ErrForbidden
	}
	if !caller.IsImpersonated() && caller.Role != domain.RoleAdmin.String() {
		return Result{}, ErrForbidden
	}

	if targetID == "" || targetID == admin.ID {
		return Result{}, ErrInvalidRequest
	}
	if _, err := idx.Parse(targetID); err != nil {
		return Result{}, ErrNotFound
	}

	target, err := s.Store.Users().GetUserByID(ctx, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("load target: %w", err)
	}

	pair, err := s.Tokens.Issue(jwtx.Identity{
		UserID: target.ID,
		Role:   target.Role.String(),
		Actor:  admin.ID,
	})
	if err != nil {
		return Result{}, err
	}

	l.Info("impersonation started",
		"actor_id", admin.ID,
		"target_id", target.ID,
		"target_role", target.Role,
	)
	return Result{Tokens: pair, User: target, Actor: admin.ID}, nil
}
