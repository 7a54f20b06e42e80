package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
	"github.com/aussiebroadwan/farmgate/internal/auth/store"
	"github.com/aussiebroadwan/farmgate/pkg/cryptox"
	"github.com/aussiebroadwan/farmgate/pkg/idx"
	"github.com/aussiebroadwan/farmgate/pkg/slogx"
)

type UserService struct {
	Store store.Store
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	if _, err := idx.Parse(userID); err != nil {
		return domain.User{}, ErrNotFound
	}
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

// CreateUser hashes password and stores a new user.
func (s *UserService) CreateUser(ctx context.Context, identifier, displayName, password string, role domain.Role) (domain.User, error) {
	if identifier == "" || password == "" || !role.Valid() {
		return domain.User{}, ErrInvalidRequest
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	u := domain.User{
		ID:           idx.New().String(),
		Identifier:   identifier,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrConflict
		}
		return domain.User{}, err
	}
	return u, nil
}

// UpdateRole changes userID's role on behalf of actorID. Administrators
// cannot change their own role, so the last one cannot demote themselves by
// accident. Tokens already issued keep the old role until they expire; the
// next refresh picks up the new one.
func (s *UserService) UpdateRole(ctx context.Context, actorID, userID string, role domain.Role) (domain.User, error) {
	if !role.Valid() {
		return domain.User{}, ErrInvalidRequest
	}
	if userID == actorID {
		return domain.User{}, ErrForbidden
	}
	if _, err := idx.Parse(userID); err != nil {
		return domain.User{}, ErrNotFound
	}

	err := s.Store.Users().UpdateRole(ctx, userID, role)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("update role: %w", err)
	}
	return s.GetUserByID(ctx, userID)
}

// DeleteUser removes userID on behalf of actorID, who cannot delete
// themselves. Outstanding refresh tokens stop working at once; access tokens
// run out on their own.
func (s *UserService) DeleteUser(ctx context.Context, actorID, userID string) error {
	if userID == actorID {
		return ErrForbidden
	}
	if _, err := idx.Parse(userID); err != nil {
		return ErrNotFound
	}

	err := s.Store.Users().DeleteUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// SeedConfig describes the administrator created on an empty database.
type SeedConfig struct {
	Identifier  string
	DisplayName string

	// Password is generated and logged once when empty.
	Password string
}

// SeedAdmin creates the first administrator when no users exist yet. It is
// a no-op on a populated database.
func (s *UserService) SeedAdmin(ctx context.Context, logger *slog.Logger, cfg SeedConfig) error {
	empty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("check users: %w", err)
	}
	if !empty {
		return nil
	}
	if cfg.Identifier == "" {
		logger.Warn("no users exist and ADMIN_IDENTIFIER is not set; nobody can log in")
		return nil
	}

	password := cfg.Password
	generated := password == ""
	if generated {
		if password, err = cryptox.GeneratePassword(); err != nil {
			return err
		}
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = "Administrator"
	}

	u, err := s.CreateUser(ctx, cfg.Identifier, displayName, password, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	attrs := []any{"user_id", u.ID, "identifier", slogx.MaskIdentifier(u.Identifier)}
	if generated {
		attrs = append(attrs, "password", password)
	}
	logger.Warn("seeded initial administrator", attrs...)
	return nil
}
