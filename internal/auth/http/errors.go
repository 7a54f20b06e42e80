package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
	"github.com/aussiebroadwan/farmgate/pkg/httpx"
	"github.com/aussiebroadwan/farmgate/pkg/slogx"
)

// writeServiceError maps service sentinels to API errors. Anything
// unexpected is logged and reported as a server error.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		authsdk.ErrInvalidCredentials.WriteError(w)
	case errors.Is(err, service.ErrSessionExpired):
		authsdk.ErrSessionExpired.WriteError(w)
	case errors.Is(err, service.ErrInvalidCode):
		authsdk.ErrInvalidCode.WriteError(w)
	case errors.Is(err, service.ErrTooManyAttempts):
		authsdk.ErrTooManyAttempts.WriteError(w)
	case errors.Is(err, service.ErrInvalidToken):
		authsdk.ErrInvalidToken.WriteError(w)
	case errors.Is(err, service.ErrForbidden):
		authsdk.ErrForbidden.WriteError(w)
	case errors.Is(err, service.ErrNotFound):
		authsdk.ErrNotFound.WriteError(w)
	case errors.Is(err, service.ErrConflict):
		authsdk.ErrConflict.WriteError(w)
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, httpx.ErrBadJSON):
		authsdk.ErrInvalidRequest.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error(op+" failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}
