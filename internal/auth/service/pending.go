package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
	"github.com/aussiebroadwan/farmgate/internal/auth/store"
	"github.com/aussiebroadwan/farmgate/pkg/cryptox"
)

const DefaultPendingTTL = 5 * time.Minute

// PendingSessionStore holds sessions that passed the password check and are
// waiting on an OTP. Ids are 256-bit random tokens.
type PendingSessionStore struct {
	Store store.Ephemeral
	TTL   time.Duration
	Now   func() time.Time
}

func NewPendingSessionStore(st store.Ephemeral, ttl time.Duration) *PendingSessionStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingSessionStore{
		Store: st,
		TTL:   ttl,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func pendingKey(id string) string  { return "pending:" + id }
func attemptsKey(id string) string { return "attempts:" + id }

// Create starts a pending session for identifier.
func (s *PendingSessionStore) Create(ctx context.Context, identifier, preboundUserID string) (domain.PendingSession, error) {
	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.PendingSession{}, err
	}

	now := s.Now()
	ps := domain.PendingSession{
		ID:             id,
		Identifier:     identifier,
		PreboundUserID: preboundUserID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.TTL),
	}

	raw, err := json.Marshal(ps)
	if err != nil {
		return domain.PendingSession{}, err
	}
	if err := s.Store.Set(ctx, pendingKey(id), raw, s.TTL); err != nil {
		return domain.PendingSession{}, fmt.Errorf("store pending session: %w", err)
	}
	return ps, nil
}

// Get returns the session, or ErrSessionExpired if it is missing or expired.
// Expired sessions are deleted on read.
func (s *PendingSessionStore) Get(ctx context.Context, id string) (domain.PendingSession, error) {
	if id == "" {
		return domain.PendingSession{}, ErrSessionExpired
	}

	raw, err := s.Store.Get(ctx, pendingKey(id))
	if err != nil {
		return domain.PendingSession{}, mapPendingErr(err)
	}

	ps, err := s.decode(raw)
	if err != nil || ps.Expired(s.Now()) {
		_ = s.Store.Delete(ctx, pendingKey(id))
		return domain.PendingSession{}, ErrSessionExpired
	}
	return ps, nil
}

// Take atomically removes and returns the session. Of several concurrent
// Takes at most one succeeds; the rest see ErrSessionExpired.
func (s *PendingSessionStore) Take(ctx context.Context, id string) (domain.PendingSession, error) {
	if id == "" {
		return domain.PendingSession{}, ErrSessionExpired
	}

	raw, err := s.Store.Take(ctx, pendingKey(id))
	if err != nil {
		return domain.PendingSession{}, mapPendingErr(err)
	}
	_ = s.Store.Delete(ctx, attemptsKey(id))

	ps, err := s.decode(raw)
	if err != nil || ps.Expired(s.Now()) {
		return domain.PendingSession{}, ErrSessionExpired
	}
	return ps, nil
}

// Delete invalidates the session. Missing sessions are not an error.
func (s *PendingSessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_ = s.Store.Delete(ctx, attemptsKey(id))
	return s.Store.Delete(ctx, pendingKey(id))
}

// RecordFailure counts a wrong code against ps and returns the total so far.
// The count lives exactly as long as the session.
func (s *PendingSessionStore) RecordFailure(ctx context.Context, ps domain.PendingSession) (int, error) {
	ttl := ps.ExpiresAt.Sub(s.Now())
	if ttl <= 0 {
		return 0, ErrSessionExpired
	}
	n, err := s.Store.Incr(ctx, attemptsKey(ps.ID), ttl)
	if err != nil {
		return 0, fmt.Errorf("count otp attempt: %w", err)
	}
	return int(n), nil
}

func (s *PendingSessionStore) decode(raw []byte) (domain.PendingSession, error) {
	var ps domain.PendingSession
	err := json.Unmarshal(raw, &ps)
	return ps, err
}

func mapPendingErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionExpired
	}
	return fmt.Errorf("load pending session: %w", err)
}
