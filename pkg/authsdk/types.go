package authsdk

// Identity describes the user a token pair was issued for.
type Identity struct {
	UserID      string `json:"user_id"`
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`

	// ActorID is the administrator acting as this user, if any.
	ActorID string `json:"actor_id,omitempty"`
}

// LoginStartRequest is the body of POST /v1/auth/login-start.
type LoginStartRequest struct {
	// Identifier is a phone number or email address.
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// ChallengeResponse is returned while a login waits on its one-time code.
type ChallengeResponse struct {
	PendingSessionID string `json:"pending_session_id"`

	// ExpiresIn is the remaining lifetime of the pending session in seconds.
	ExpiresIn int `json:"expires_in"`

	// OTPCode is only present on development deployments.
	OTPCode string `json:"otp_code,omitempty"`
}

// LoginVerifyRequest is the body of POST /v1/auth/login-verify.
type LoginVerifyRequest struct {
	PendingSessionID string `json:"pending_session_id"`
	Code             string `json:"code"`
}

// LoginResendRequest is the body of POST /v1/auth/login-resend.
type LoginResendRequest struct {
	PendingSessionID string `json:"pending_session_id"`
}

// RefreshRequest is the body of POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by login-verify, refresh and impersonate.
// Refresh responses carry neither a refresh token nor an identity.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	Identity     *Identity `json:"identity,omitempty"`
}

// UpdateRoleRequest is the body for PUT /v1/users/{id}/role.
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// CreateUserRequest is the body for POST /v1/users.
type CreateUserRequest struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Role        string `json:"role"` // ADMIN, FARMER or CUSTOMER
}

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the dependencies checked by /readyz.
type HealthChecks struct {
	Database  string `json:"database"`
	Ephemeral string `json:"ephemeral"`
}
