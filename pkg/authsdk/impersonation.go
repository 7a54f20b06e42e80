package authsdk

import (
	"context"
	"sync"
)

// ImpersonationManager swaps the primary credentials for another user's and
// keeps the administrator's in a separate snapshot scope until End. The
// snapshot scope is non-empty exactly while an impersonation is active.
type ImpersonationManager struct {
	Session  *Session
	Primary  CredentialStore
	Snapshot CredentialStore

	mu sync.Mutex
}

// lockScopes holds the Gateway's scope lock so an in-flight refresh cannot
// write the primary scope between our load and save.
func (m *ImpersonationManager) lockScopes() func() {
	if m.Session == nil || m.Session.gateway == nil {
		return func() {}
	}
	m.Session.gateway.scopes.Lock()
	return m.Session.gateway.scopes.Unlock
}

// NewImpersonationManager uses the Session's own scopes. The Session must
// have been created with a Snapshot scope.
func NewImpersonationManager(s *Session) *ImpersonationManager {
	return &ImpersonationManager{
		Session:  s,
		Primary:  s.Credentials(),
		Snapshot: s.Snapshot(),
	}
}

// Begin starts acting as userID. A nested Begin keeps the original snapshot,
// so End always returns to the administrator who started.
func (m *ImpersonationManager) Begin(ctx context.Context, userID string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The call goes through the Gateway, which may need the scope lock to
	// refresh, so the lock is taken only afterwards.
	tok, err := m.Session.Impersonate(ctx, userID)
	if err != nil {
		return nil, err
	}

	unlock := m.lockScopes()
	defer unlock()

	// Loaded after the call, which may have refreshed the admin's tokens.
	current, ok, err := m.Primary.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReauthRequired
	}

	_, active, err := m.Snapshot.Load(ctx)
	if err != nil {
		return nil, err
	}

	snapshotted := false
	if !active {
		if err := m.Snapshot.Save(ctx, current); err != nil {
			return nil, err
		}
		snapshotted = true
	}

	next := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Identity:     *tok.Identity,
	}
	if err := m.Primary.Save(ctx, next); err != nil {
		if snapshotted {
			_ = m.Snapshot.Clear(ctx)
		}
		return nil, err
	}
	return tok.Identity, nil
}

// End restores the snapshot into the primary scope. It is a no-op when no
// impersonation is active.
func (m *ImpersonationManager) End(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	unlock := m.lockScopes()
	defer unlock()

	snap, ok, err := m.Snapshot.Load(ctx)
	if err != nil || !ok {
		return err
	}

	if err := m.Primary.Save(ctx, snap); err != nil {
		return err
	}
	return m.Snapshot.Clear(ctx)
}

// Active reports whether an impersonation is in progress.
func (m *ImpersonationManager) Active(ctx context.Context) (bool, error) {
	_, ok, err := m.Snapshot.Load(ctx)
	return ok, err
}

// Original returns the administrator's identity while impersonating.
func (m *ImpersonationManager) Original(ctx context.Context) (*Identity, bool, error) {
	snap, ok, err := m.Snapshot.Load(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return &snap.Identity, true, nil
}
