package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
	"github.com/aussiebroadwan/farmgate/pkg/httpx"
)

// LoginHandler serves the two step login.
type LoginHandler struct {
	Handshake *service.AuthHandshake
}

// HandleStart handles POST /v1/auth/login-start
//
//	@Summary		Start a login
//	@Description	Checks the password for an identifier (phone number or email). On success a one-time code is sent and a pending session id is returned.
//	@Description	Bad credentials create no server state.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginStartRequest	true	"identifier and password"
//	@Success		200		{object}	authsdk.ChallengeResponse	"pending_session_id, expires_in"
//	@Failure		400		{object}	authsdk.APIError			"invalid_request"
//	@Failure		401		{object}	authsdk.APIError			"invalid_credentials"
//	@Failure		429		{object}	authsdk.APIError			"rate_limit_exceeded"
//	@Failure		500		{object}	authsdk.APIError			"server_error"
//	@Router			/v1/auth/login-start [post].
func (h *LoginHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginStartRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" || req.Secret == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	ch, err := h.Handshake.Start(r.Context(), req.Identifier, req.Secret)
	if err != nil {
		writeServiceError(w, r, "login start", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, challengeResponse(ch))
}

// HandleVerify handles POST /v1/auth/login-verify
//
//	@Summary		Complete a login
//	@Description	Verifies the one-time code for a pending session and issues an access/refresh token pair.
//	@Description	A wrong code leaves the session usable. A completed session cannot be reused.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginVerifyRequest	true	"pending session id and code"
//	@Success		200		{object}	authsdk.TokenResponse		"access_token, refresh_token, identity"
//	@Failure		400		{object}	authsdk.APIError			"invalid_request"
//	@Failure		401		{object}	authsdk.APIError			"session_expired, invalid_code or too_many_attempts"
//	@Failure		429		{object}	authsdk.APIError			"rate_limit_exceeded"
//	@Failure		500		{object}	authsdk.APIError			"server_error"
//	@Header			200		{string}	Cache-Control				"no-store"
//	@Router			/v1/auth/login-verify [post].
func (h *LoginHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginVerifyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if req.PendingSessionID == "" || req.Code == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.Handshake.Verify(r.Context(), req.PendingSessionID, strings.TrimSpace(req.Code))
	if err != nil {
		writeServiceError(w, r, "login verify", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(res))
}

// HandleResend handles POST /v1/auth/login-resend
//
//	@Summary		Resend the one-time code
//	@Description	Issues a new code for a pending session, replacing the previous one. Clients should wait at least 30 seconds between sends.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginResendRequest	true	"pending session id"
//	@Success		200		{object}	authsdk.ChallengeResponse	"pending_session_id, expires_in"
//	@Failure		400		{object}	authsdk.APIError			"invalid_request"
//	@Failure		401		{object}	authsdk.APIError			"session_expired"
//	@Failure		429		{object}	authsdk.APIError			"rate_limit_exceeded"
//	@Router			/v1/auth/login-resend [post].
func (h *LoginHandler) HandleResend(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginResendRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.PendingSessionID == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	ch, err := h.Handshake.Resend(r.Context(), req.PendingSessionID)
	if err != nil {
		writeServiceError(w, r, "login resend", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, challengeResponse(ch))
}

func challengeResponse(ch service.Challenge) authsdk.ChallengeResponse {
	return authsdk.ChallengeResponse{
		PendingSessionID: ch.PendingSessionID,
		ExpiresIn:        int(ch.ExpiresIn.Seconds()),
		OTPCode:          ch.OTPCode,
	}
}

func tokenResponse(res service.Result) authsdk.TokenResponse {
	id := identity(res.User, res.Actor)
	return authsdk.TokenResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(res.Tokens.AccessExpiresIn.Seconds()),
		Identity:     &id,
	}
}

func identity(u domain.User, actor string) authsdk.Identity {
	return authsdk.Identity{
		UserID:      u.ID,
		Identifier:  u.Identifier,
		DisplayName: u.DisplayName,
		Role:        u.Role.String(),
		ActorID:     actor,
	}
}

