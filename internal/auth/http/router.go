package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/aussiebroadwan/farmgate/internal/auth/store"
	"github.com/aussiebroadwan/farmgate/pkg/httpx"
	"github.com/aussiebroadwan/farmgate/pkg/jwtx"
	"github.com/aussiebroadwan/farmgate/pkg/slogx"

	_ "github.com/aussiebroadwan/farmgate/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

//go:generate swag init -g router.go -d .,../../../pkg/authsdk -o ../../../api/auth --packageName auth

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store     store.Store
	ephemeral store.Ephemeral

	Handshake    *service.AuthHandshake
	TokenService *service.TokenService
	UserService  *service.UserService
}

func NewRouter(
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	eph store.Ephemeral,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		ephemeral:    eph,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerUsers()
	r.registerSystem()

	r.Mux.Handle("/swagger/",
		httpx.Chain(httpSwagger.Handler(),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Farmgate Authentication Service API
//	@version		0.1.0
//	@description	Two step login (password then one-time code), token refresh and administrator impersonation for the farmgate marketplace.
//	@description
//	@description				Access and refresh tokens are HS256 JWTs. Refresh tokens carry typ=refresh and are only accepted by /v1/auth/refresh.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/farmgate
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	login := &LoginHandler{Handshake: r.Handshake}

	// Password guessing: limit by IP and by the identifier being attacked.
	r.Mux.Handle("POST /v1/auth/login-start",
		httpx.Chain(http.HandlerFunc(login.HandleStart),
			httpx.RateLimitByIPAndJSONField(httpx.StrictLimit, "identifier"),
		),
	)

	// Code guessing: a 6 digit code must not be brute forced within its TTL.
	r.Mux.Handle("POST /v1/auth/login-verify",
		httpx.Chain(http.HandlerFunc(login.HandleVerify),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// Resends cost an SMS each.
	r.Mux.Handle("POST /v1/auth/login-resend",
		httpx.Chain(http.HandlerFunc(login.HandleResend),
			httpx.RateLimitByIPAndJSONField(httpx.StrictLimit, "pending_session_id"),
		),
	)

	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(&RefreshHandler{TokenService: r.TokenService},
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerUsers() {
	h := &UsersHandler{
		UserService:  r.UserService,
		TokenService: r.TokenService,
	}

	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)

	r.Mux.Handle("POST /v1/users",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireRole("ADMIN"),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("GET /v1/users/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireRole("ADMIN"),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("PUT /v1/users/{id}/role",
		httpx.Chain(http.HandlerFunc(h.HandleUpdateRole),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireRole("ADMIN"),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("DELETE /v1/users/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleDelete),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireRole("ADMIN"),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	// The role check lives in the service: an administrator who is already
	// impersonating holds the target's role but may switch targets.
	r.Mux.Handle("POST /v1/users/{id}/impersonate",
		httpx.Chain(http.HandlerFunc(h.HandleImpersonate),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.ephemeral),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
