/*
Package authsdk is the client side of the farmgate authentication service.

# Overview

Logging in is a two step handshake. The password step returns a pending
session id and sends a one-time code to the user's phone or email; the code
step returns an access/refresh token pair:

	client := authsdk.NewSDKClient("https://auth.example.com")
	creds := authsdk.NewFileCredentialStore("/var/lib/portal/credentials.json")

	login := authsdk.NewLoginFlow(client, creds, "ADMIN")
	ch, err := login.Start(ctx, "+91-555-0100", password)
	// ... read the code from the user ...
	id, err := login.Verify(ctx, ch.PendingSessionID, code)

Verify enforces the portal role. A FARMER completing a login on an ADMIN
portal gets ErrForbidden and nothing is stored. Resend refuses with
ErrResendCooldown when called within ResendCooldown of the previous send.

# Sessions and the Gateway

A Session sends requests through a Gateway, an http.RoundTripper that
attaches the stored access token. When a request comes back 401 the Gateway
refreshes the access token and replays the request once. The replay is
marked so it is never refreshed again, and concurrent 401s wait on the same
refresh:

	session := client.NewSession(authsdk.SessionOptions{
		Credentials:      creds,
		Snapshot:         authsdk.NewMemoryCredentialStore(),
		OnReauthRequired: func() { redirectToLogin() },
	})
	resp, err := session.HTTPClient().Get("https://api.example.com/v1/orders")

If there is no refresh token, or the refresh is rejected, every stored
credential is cleared and the call fails with ErrReauthRequired.

# Impersonation

An ImpersonationManager lets an administrator act as another user:

	imp := authsdk.NewImpersonationManager(session)
	_, err := imp.Begin(ctx, farmerID)
	// ... requests now run as the farmer ...
	err = imp.End(ctx)

Begin keeps the administrator's credentials in the snapshot scope and End
puts them back. Whether an impersonation is active is decided only by the
presence of the snapshot (see Active). Nested Begin calls keep the first
snapshot, so End always returns to the administrator.

# Errors

Server errors are *APIError values. They match the package level errors by
code, so callers can write:

	if errors.Is(err, authsdk.ErrSessionExpired) {
		// restart from the password step
	}

Credential store failures wrap ErrStorageFailure.
*/
package authsdk
