package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Session makes authenticated calls through a Gateway, so expired access
// tokens are refreshed transparently.
type Session struct {
	client  *SDKClient
	gateway *Gateway
	http    *http.Client
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	// Credentials is the primary scope. Required.
	Credentials CredentialStore

	// Snapshot is the impersonation snapshot scope. Optional.
	Snapshot CredentialStore

	OnReauthRequired func()
}

// NewSession returns a Session backed by the given credential scopes.
func (c *SDKClient) NewSession(opts SessionOptions) *Session {
	gw := &Gateway{
		Base:             c.HTTPClient.Transport,
		Client:           c,
		Credentials:      opts.Credentials,
		Snapshot:         opts.Snapshot,
		OnReauthRequired: opts.OnReauthRequired,
	}
	return &Session{
		client:  c,
		gateway: gw,
		http: &http.Client{
			Transport: gw,
			Timeout:   c.HTTPClient.Timeout,
		},
	}
}

// HTTPClient returns a client for calling other APIs that accept the same
// access tokens.
func (s *Session) HTTPClient() *http.Client { return s.http }

// Credentials returns the primary credential scope.
func (s *Session) Credentials() CredentialStore { return s.gateway.Credentials }

// Snapshot returns the impersonation snapshot scope, or nil.
func (s *Session) Snapshot() CredentialStore { return s.gateway.Snapshot }

// Me returns the identity of the current access token.
func (s *Session) Me(ctx context.Context) (*Identity, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}

	var id Identity
	if err := decodeJSON(resp, &id, http.StatusOK); err != nil {
		return nil, err
	}
	return &id, nil
}

// Impersonate asks the server for a token pair for userID. It does not
// touch stored credentials; use an ImpersonationManager for that.
func (s *Session) Impersonate(ctx context.Context, userID string) (*TokenResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(userID)+"/impersonate", nil)
	if err != nil {
		return nil, err
	}

	var tok TokenResponse
	if err := decodeJSON(resp, &tok, http.StatusOK); err != nil {
		return nil, err
	}
	if tok.Identity == nil {
		return nil, fmt.Errorf("authsdk: impersonation response has no identity")
	}
	return &tok, nil
}

// CreateUser registers a user. The session must belong to an administrator.
func (s *Session) CreateUser(ctx context.Context, in CreateUserRequest) (*Identity, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/users", in)
	if err != nil {
		return nil, err
	}

	var id Identity
	if err := decodeJSON(resp, &id, http.StatusCreated); err != nil {
		return nil, err
	}
	return &id, nil
}

// UpdateUserRole changes a user's role. The session must belong to an
// administrator other than userID.
func (s *Session) UpdateUserRole(ctx context.Context, userID, role string) (*Identity, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPut, "/v1/users/"+url.PathEscape(userID)+"/role", UpdateRoleRequest{Role: role})
	if err != nil {
		return nil, err
	}

	var id Identity
	if err := decodeJSON(resp, &id, http.StatusOK); err != nil {
		return nil, err
	}
	return &id, nil
}

// DeleteUser removes a user. The session must belong to an administrator
// other than userID.
func (s *Session) DeleteUser(ctx context.Context, userID string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return parseErrorResponse(resp, body)
	}
	return nil
}

// doAuthRequest sends a request through the gateway. A non-nil body is sent
// as JSON from a bytes.Reader so the gateway can replay it after a refresh.
func (s *Session) doAuthRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.url(path), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}
