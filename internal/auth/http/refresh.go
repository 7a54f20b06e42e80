package http

import (
	"net/http"

	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
	"github.com/aussiebroadwan/farmgate/pkg/httpx"
)

// RefreshHandler serves POST /v1/auth/refresh.
type RefreshHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		Refresh an access token
//	@Description	Exchanges a refresh token for a new access token. The refresh token itself is not rotated.
//	@Description	Access tokens are rejected here, and refresh tokens are rejected everywhere else.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RefreshRequest	true	"refresh token"
//	@Success		200		{object}	authsdk.TokenResponse	"access_token, token_type, expires_in"
//	@Failure		400		{object}	authsdk.APIError		"invalid_request"
//	@Failure		401		{object}	authsdk.APIError		"invalid_token"
//	@Header			200		{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/refresh [post].
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	access, expiresIn, err := h.TokenService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, "refresh", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(expiresIn.Seconds()),
	})
}
