//go:build e2e

package auth_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRefreshTokenRejectedAsBearer guards against using the long lived token
// on resource endpoints.
func TestRefreshTokenRejectedAsBearer(t *testing.T) {
	baseURL := setupAuthContainer(t)
	client := authsdk.NewSDKClient(baseURL)
	ctx := t.Context()

	session := login(t, client, adminIdentifier, adminPassword)
	creds, _, err := session.Credentials().Load(ctx)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+creds.RefreshToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
}

func TestResponsesAreNotCached(t *testing.T) {
	baseURL := setupAuthContainer(t)
	ctx := t.Context()

	client := authsdk.NewSDKClient(baseURL)
	_, err := client.LoginStart(ctx, adminIdentifier, "wrong")
	require.Error(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/refresh", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestExposeOTPRefusedInProduction(t *testing.T) {
	// The container exits during config validation, so it never becomes
	// healthy on /livez.
	_, err := tryStart(t, map[string]string{
		"ENV":                  "production",
		"AUTH_EXPOSE_OTP":      "true",
		"AUTH_FIXED_OTP":       "",
		"NOTIFIER":             "webhook",
		"NOTIFIER_WEBHOOK_URL": "http://127.0.0.1:1/sms",
	})
	require.Error(t, err)
}
