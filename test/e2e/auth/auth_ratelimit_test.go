//go:build e2e

package auth_test

import (
	"testing"

	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRateLimitLoginStart checks the strict profile (5 req/min) on the
// password step.
func TestRateLimitLoginStart(t *testing.T) {
	client := authsdk.NewSDKClient(setupAuthContainerWithEnv(t, nil))
	ctx := t.Context()

	for i := range 5 {
		_, err := client.LoginStart(ctx, adminIdentifier, "wrong")
		requireAPIError(t, err, authsdk.ErrInvalidCredentials)
		require.NotContains(t, err.Error(), "rate_limit", "request %d should not be limited", i+1)
	}

	_, err := client.LoginStart(ctx, adminIdentifier, "wrong")
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 429, apiErr.StatusCode)
	require.Equal(t, authsdk.ErrorCodeRateLimited, apiErr.Code)
}

func TestRateLimitLoginVerify(t *testing.T) {
	client := authsdk.NewSDKClient(setupAuthContainerWithEnv(t, nil))
	ctx := t.Context()

	for range 5 {
		_, err := client.LoginVerify(ctx, "guess", "000000")
		requireAPIError(t, err, authsdk.ErrSessionExpired)
	}

	_, err := client.LoginVerify(ctx, "guess", "000000")
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 429, apiErr.StatusCode)
}
