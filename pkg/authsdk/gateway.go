package authsdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

type retriedKey struct{}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Gateway is an http.RoundTripper that attaches the stored access token and,
// on a 401, refreshes it and replays the request exactly once. A replayed
// request that fails again is returned as is. Concurrent 401s share a single
// refresh.
//
// When there is no refresh token, or the refresh is rejected, every stored
// credential is cleared, OnReauthRequired is called and RoundTrip returns
// ErrReauthRequired.
type Gateway struct {
	// Base sends the actual requests. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Client performs the refresh call. It must not itself use this Gateway.
	Client *SDKClient

	Credentials CredentialStore

	// Snapshot is cleared alongside Credentials when re-authentication is
	// required. Optional.
	Snapshot CredentialStore

	OnReauthRequired func()

	refreshes singleflight.Group

	// scopes serialises writes to Credentials and Snapshot. ImpersonationManager
	// takes it too, so a refresh never lands on a swapped scope.
	scopes sync.Mutex
}

func (g *Gateway) base() http.RoundTripper {
	if g.Base != nil {
		return g.Base
	}
	return http.DefaultTransport
}

func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	creds, _, err := g.Credentials.Load(ctx)
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	resp, err := g.base().RoundTrip(withBearer(ctx, req, creds.AccessToken))
	if err != nil || resp.StatusCode != http.StatusUnauthorized || isRetried(ctx) {
		return resp, err
	}

	// Bodies that cannot be rewound cannot be replayed.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	token, err := g.refresh(ctx, creds)
	discard(resp)
	if err != nil {
		return nil, err
	}

	retryCtx := context.WithValue(ctx, retriedKey{}, true)
	retry := withBearer(retryCtx, req, token)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("authsdk: rewind request body: %w", err)
		}
		retry.Body = body
	}
	return g.base().RoundTrip(retry)
}

// refresh returns a usable access token for the session sent belongs to. If a
// sibling request already refreshed that session, its token is reused without
// calling the server again.
func (g *Gateway) refresh(ctx context.Context, sent Credentials) (string, error) {
	v, err, _ := g.refreshes.Do("refresh:"+sent.RefreshToken, func() (any, error) {
		// A caller giving up must not abort the refresh others are waiting on.
		ctx := context.WithoutCancel(ctx)

		current, ok, err := g.Credentials.Load(ctx)
		if err != nil {
			return "", err
		}
		if ok && sameSession(current, sent) && current.AccessToken != "" && current.AccessToken != sent.AccessToken {
			return current.AccessToken, nil
		}
		if sent.RefreshToken == "" {
			return "", g.reauth(ctx, sent)
		}

		tok, err := g.Client.Refresh(ctx, sent.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("%w: %w", g.reauth(ctx, sent), err)
		}

		if err := g.storeRefreshed(ctx, sent, tok); err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// storeRefreshed saves tok only while the primary scope still holds the
// session it was minted for. After an impersonation swap or a logout the
// token serves the replay alone.
func (g *Gateway) storeRefreshed(ctx context.Context, sent Credentials, tok *TokenResponse) error {
	g.scopes.Lock()
	defer g.scopes.Unlock()

	current, ok, err := g.Credentials.Load(ctx)
	if err != nil {
		return err
	}
	if !ok || !sameSession(current, sent) {
		return nil
	}

	current.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		current.RefreshToken = tok.RefreshToken
	}
	return g.Credentials.Save(ctx, current)
}

// reauth clears every scope, unless the primary scope has meanwhile moved on
// to another session, which stays untouched.
func (g *Gateway) reauth(ctx context.Context, sent Credentials) error {
	g.scopes.Lock()
	defer g.scopes.Unlock()

	current, ok, err := g.Credentials.Load(ctx)
	if err == nil && ok && !sameSession(current, sent) {
		return ErrReauthRequired
	}

	_ = g.Credentials.Clear(ctx)
	if g.Snapshot != nil {
		_ = g.Snapshot.Clear(ctx)
	}
	if g.OnReauthRequired != nil {
		g.OnReauthRequired()
	}
	return ErrReauthRequired
}

// sameSession reports whether a and b were issued to the same principal
// acting as the same user.
func sameSession(a, b Credentials) bool {
	return a.Identity.UserID == b.Identity.UserID && a.Identity.ActorID == b.Identity.ActorID
}

func withBearer(ctx context.Context, req *http.Request, token string) *http.Request {
	out := req.Clone(ctx)
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return out
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
