package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
	"github.com/aussiebroadwan/farmgate/pkg/httpx"
	"github.com/aussiebroadwan/farmgate/pkg/slogx"
)

type UsersHandler struct {
	UserService  *service.UserService
	TokenService *service.TokenService
}

// HandleMe handles GET /v1/auth/me
//
//	@Summary		Current identity
//	@Description	Returns the user the access token was issued for. When an administrator is impersonating, actor_id names the administrator.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.Identity	"identity"
//	@Failure		401	{object}	authsdk.APIError	"invalid_token"
//	@Router			/v1/auth/me [get].
func (h *UsersHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpx.ClaimsFromContext(r.Context())
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	user, err := h.UserService.GetUserByID(r.Context(), claims.Subject)
	if err != nil {
		// A valid token for a deleted user is still unusable.
		if errors.Is(err, service.ErrNotFound) {
			err = service.ErrInvalidToken
		}
		writeServiceError(w, r, "load current user", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, identity(user, claims.Actor))
}

// HandleCreate handles POST /v1/users
//
//	@Summary		Register a user
//	@Description	Creates a user who can then sign in with the two step login. Requires the ADMIN role.
//	@Tags			Users
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.CreateUserRequest	true	"identifier, display name, password and role"
//	@Success		201		{object}	authsdk.Identity			"the new user"
//	@Failure		400		{object}	authsdk.APIError			"invalid_request"
//	@Failure		401		{object}	authsdk.APIError			"invalid_token"
//	@Failure		403		{object}	authsdk.APIError			"forbidden"
//	@Failure		409		{object}	authsdk.APIError			"conflict"
//	@Router			/v1/users [post].
func (h *UsersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.CreateUserRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, "decode create user", err)
		return
	}

	role, err := domain.ParseRole(req.Role)
	if err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	user, err := h.UserService.CreateUser(r.Context(), req.Identifier, req.DisplayName, req.Password, role)
	if err != nil {
		writeServiceError(w, r, "create user", err)
		return
	}

	claims, _ := httpx.ClaimsFromContext(r.Context())
	slogx.FromContext(r.Context()).Info("user created",
		"user_id", user.ID,
		"role", user.Role,
		"by", claims.Subject,
	)

	httpx.WriteJSON(w, http.StatusCreated, identity(user, ""))
}

// HandleGet handles GET /v1/users/{id}
//
//	@Summary		Look up a user
//	@Description	Returns a user's identity. Requires the ADMIN role.
//	@Tags			Users
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string				true	"user id"
//	@Success		200	{object}	authsdk.Identity	"identity"
//	@Failure		401	{object}	authsdk.APIError	"invalid_token"
//	@Failure		403	{object}	authsdk.APIError	"forbidden"
//	@Failure		404	{object}	authsdk.APIError	"not_found"
//	@Router			/v1/users/{id} [get].
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.UserService.GetUserByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "load user", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identity(user, ""))
}

// HandleUpdateRole handles PUT /v1/users/{id}/role
//
//	@Summary		Change a user's role
//	@Description	Requires the ADMIN role. Administrators cannot change their own role. Issued access tokens keep the old role until they expire.
//	@Tags			Users
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string						true	"user id"
//	@Param			request	body		authsdk.UpdateRoleRequest	true	"new role"
//	@Success		200		{object}	authsdk.Identity			"the updated user"
//	@Failure		400		{object}	authsdk.APIError			"invalid_request"
//	@Failure		401		{object}	authsdk.APIError			"invalid_token"
//	@Failure		403		{object}	authsdk.APIError			"forbidden"
//	@Failure		404		{object}	authsdk.APIError			"not_found"
//	@Router			/v1/users/{id}/role [put].
func (h *UsersHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req authsdk.UpdateRoleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, "decode update role", err)
		return
	}

	role, err := domain.ParseRole(req.Role)
	if err != nil {
		authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "role must be ADMIN, FARMER or CUSTOMER").WriteError(w)
		return
	}

	claims, _ := httpx.ClaimsFromContext(r.Context())
	user, err := h.UserService.UpdateRole(r.Context(), claims.Subject, r.PathValue("id"), role)
	if err != nil {
		writeServiceError(w, r, "update role", err)
		return
	}

	slogx.FromContext(r.Context()).Info("user role changed",
		"user_id", user.ID,
		"role", user.Role,
		"by", claims.Subject,
	)
	httpx.WriteJSON(w, http.StatusOK, identity(user, ""))
}

// HandleDelete handles DELETE /v1/users/{id}
//
//	@Summary		Delete a user
//	@Description	Requires the ADMIN role. Administrators cannot delete themselves.
//	@Tags			Users
//	@Security		BearerAuth
//	@Param			id	path	string	true	"user id"
//	@Success		204
//	@Failure		401	{object}	authsdk.APIError	"invalid_token"
//	@Failure		403	{object}	authsdk.APIError	"forbidden"
//	@Failure		404	{object}	authsdk.APIError	"not_found"
//	@Router			/v1/users/{id} [delete].
func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())
	id := r.PathValue("id")

	if err := h.UserService.DeleteUser(r.Context(), claims.Subject, id); err != nil {
		writeServiceError(w, r, "delete user", err)
		return
	}

	slogx.FromContext(r.Context()).Info("user deleted", "user_id", id, "by", claims.Subject)
	w.WriteHeader(http.StatusNoContent)
}

// HandleImpersonate handles POST /v1/users/{id}/impersonate
//
//	@Summary		Impersonate a user
//	@Description	Issues a token pair for another user without their credentials. Requires the ADMIN role, or an impersonation already started by an administrator.
//	@Description	The access token carries the administrator's id in the act claim.
//	@Tags			Users
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string					true	"user id to impersonate"
//	@Success		200	{object}	authsdk.TokenResponse	"access_token, refresh_token, identity"
//	@Failure		400	{object}	authsdk.APIError		"invalid_request"
//	@Failure		401	{object}	authsdk.APIError		"invalid_token"
//	@Failure		403	{object}	authsdk.APIError		"forbidden"
//	@Failure		404	{object}	authsdk.APIError		"not_found"
//	@Header			200	{string}	Cache-Control			"no-store"
//	@Router			/v1/users/{id}/impersonate [post].
func (h *UsersHandler) HandleImpersonate(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpx.ClaimsFromContext(r.Context())
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	res, err := h.TokenService.Impersonate(r.Context(), claims, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "impersonate", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(res))
}
