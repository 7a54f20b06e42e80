package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient calls the unauthenticated endpoints of the auth service and
// creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a client for the service at baseURL.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// LoginStart submits the password step.
func (c *SDKClient) LoginStart(ctx context.Context, identifier, secret string) (*ChallengeResponse, error) {
	var out ChallengeResponse
	err := c.postJSON(ctx, "/v1/auth/login-start", LoginStartRequest{Identifier: identifier, Secret: secret}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginVerify submits the one-time code and returns the issued tokens.
func (c *SDKClient) LoginVerify(ctx context.Context, pendingSessionID, code string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.postJSON(ctx, "/v1/auth/login-verify", LoginVerifyRequest{PendingSessionID: pendingSessionID, Code: code}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginResend asks for a new one-time code.
func (c *SDKClient) LoginResend(ctx context.Context, pendingSessionID string) (*ChallengeResponse, error) {
	var out ChallengeResponse
	err := c.postJSON(ctx, "/v1/auth/login-resend", LoginResendRequest{PendingSessionID: pendingSessionID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.postJSON(ctx, "/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLiveness checks if the service is alive.
func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/livez")
}

// GetReadiness checks if the service is ready.
func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/readyz")
}

func (c *SDKClient) health(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}
