package authsdk

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultResendCooldown is the minimum interval between code sends for one
// pending session.
const DefaultResendCooldown = 30 * time.Second

// LoginFlow drives the password then code handshake from a client app and
// stores the resulting credentials.
type LoginFlow struct {
	Client      *SDKClient
	Credentials CredentialStore

	// Snapshot is cleared on Logout. Optional.
	Snapshot CredentialStore

	// Portal is the role this app accepts, e.g. "ADMIN". Empty accepts any.
	Portal string

	ResendCooldown time.Duration
	Now            func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewLoginFlow(client *SDKClient, creds CredentialStore, portal string) *LoginFlow {
	return &LoginFlow{
		Client:         client,
		Credentials:    creds,
		Portal:         portal,
		ResendCooldown: DefaultResendCooldown,
	}
}

func (f *LoginFlow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Start submits the password step.
func (f *LoginFlow) Start(ctx context.Context, identifier, secret string) (*ChallengeResponse, error) {
	ch, err := f.Client.LoginStart(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	f.markSent(ch.PendingSessionID)
	return ch, nil
}

// Resend requests a new code, refusing with ErrResendCooldown when the last
// send for this session was too recent.
func (f *LoginFlow) Resend(ctx context.Context, pendingSessionID string) (*ChallengeResponse, error) {
	f.mu.Lock()
	last, ok := f.lastSent[pendingSessionID]
	f.mu.Unlock()

	if ok && f.now().Sub(last) < f.ResendCooldown {
		return nil, ErrResendCooldown
	}

	ch, err := f.Client.LoginResend(ctx, pendingSessionID)
	if err != nil {
		return nil, err
	}
	f.markSent(pendingSessionID)
	return ch, nil
}

// Verify submits the code. Tokens for a role other than Portal are
// discarded and ErrForbidden is returned; nothing is stored in that case.
func (f *LoginFlow) Verify(ctx context.Context, pendingSessionID, code string) (*Identity, error) {
	tok, err := f.Client.LoginVerify(ctx, pendingSessionID, code)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	delete(f.lastSent, pendingSessionID)
	f.mu.Unlock()

	if tok.Identity == nil {
		return nil, fmt.Errorf("authsdk: login response has no identity")
	}
	if f.Portal != "" && tok.Identity.Role != f.Portal {
		return nil, fmt.Errorf("%w: %s accounts cannot use the %s portal", ErrForbidden, tok.Identity.Role, f.Portal)
	}

	creds := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Identity:     *tok.Identity,
	}
	if err := f.Credentials.Save(ctx, creds); err != nil {
		return nil, err
	}
	return tok.Identity, nil
}

// Logout forgets every stored credential.
func (f *LoginFlow) Logout(ctx context.Context) error {
	if f.Snapshot != nil {
		if err := f.Snapshot.Clear(ctx); err != nil {
			return err
		}
	}
	return f.Credentials.Clear(ctx)
}

func (f *LoginFlow) markSent(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastSent == nil {
		f.lastSent = map[string]time.Time{}
	}
	f.lastSent[id] = f.now()
}
