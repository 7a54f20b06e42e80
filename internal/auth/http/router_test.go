package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	authhttp "github.com/aussiebroadwan/farmgate/internal/auth/http"
	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/aussiebroadwan/farmgate/internal/auth/store/drivers/memory"
	"github.com/aussiebroadwan/farmgate/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
	"github.com/aussiebroadwan/farmgate/pkg/cryptox"
	"github.com/aussiebroadwan/farmgate/pkg/jwtx"
	"github.com/aussiebroadwan/farmgate/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	cryptox.SetPepper("http-test-pepper")
	os.Exit(m.Run())
}

type testServer struct {
	router *authhttp.Router
	users  *service.UserService
	tokens *jwtx.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	eph := memory.NewEphemeral()
	tokens, err := jwtx.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), jwtx.IssuerConfig{Issuer: "farmgate-test"})
	require.NoError(t, err)

	otp := service.NewOTPChallengeStore(eph, 5*time.Minute)
	otp.FixedCode = "482913"

	logger := slogx.New(slogx.Config{Service: "auth-test", Output: &bytes.Buffer{}})
	r := authhttp.NewRouter(tokens, "test", st, eph, logger)
	r.Handshake = &service.AuthHandshake{
		Store:     st,
		OTP:       otp,
		Sessions:  service.NewPendingSessionStore(eph, 5*time.Minute),
		Tokens:    tokens,
		Notifier:  &service.LogNotifier{Logger: logger},
		ExposeOTP: true,
	}
	r.TokenService = &service.TokenService{Store: st, Tokens: tokens}
	r.UserService = &service.UserService{Store: st}
	r.ApplyRoutes()

	return &testServer{router: r, users: r.UserService, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createUser(t *testing.T, identifier string, role domain.Role) domain.User {
	t.Helper()
	u, err := s.users.CreateUser(context.Background(), identifier, "Test", "pw", role)
	require.NoError(t, err)
	return u
}

func (s *testServer) login(t *testing.T, identifier string) authsdk.TokenResponse {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/v1/auth/login-start", "", authsdk.LoginStartRequest{Identifier: identifier, Secret: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ch authsdk.ChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))

	rec = s.do(t, http.MethodPost, "/v1/auth/login-verify", "", authsdk.LoginVerifyRequest{PendingSessionID: ch.PendingSessionID, Code: ch.OTPCode})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok authsdk.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	return tok
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e authsdk.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e.Code
}

func TestLogin_Scenario(t *testing.T) {
	s := newTestServer(t)
	u := s.createUser(t, "+91-555-0100", domain.RoleFarmer)

	rec := s.do(t, http.MethodPost, "/v1/auth/login-start", "", authsdk.LoginStartRequest{Identifier: "+91-555-0100", Secret: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var ch authsdk.ChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
	require.NotEmpty(t, ch.PendingSessionID)
	require.Equal(t, "482913", ch.OTPCode)
	require.InDelta(t, 300, ch.ExpiresIn, 1)

	rec = s.do(t, http.MethodPost, "/v1/auth/login-verify", "", authsdk.LoginVerifyRequest{PendingSessionID: ch.PendingSessionID, Code: "000000"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_code", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/auth/login-verify", "", authsdk.LoginVerifyRequest{PendingSessionID: ch.PendingSessionID, Code: "482913"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var tok authsdk.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.Equal(t, "Bearer", tok.TokenType)
	require.Equal(t, 900, tok.ExpiresIn)
	require.NotNil(t, tok.Identity)
	require.Equal(t, u.ID, tok.Identity.UserID)
	require.Equal(t, "FARMER", tok.Identity.Role)

	rec = s.do(t, http.MethodPost, "/v1/auth/login-verify", "", authsdk.LoginVerifyRequest{PendingSessionID: ch.PendingSessionID, Code: "482913"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "session_expired", errorCode(t, rec))
}

func TestLogin_BadRequests(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "+91-555-0100", domain.RoleFarmer)

	rec := s.do(t, http.MethodPost, "/v1/auth/login-start", "", authsdk.LoginStartRequest{Identifier: "+91-555-0100", Secret: "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_credentials", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/auth/login-start", "", map[string]string{"identifier": "x", "password": "y"})
	require.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = s.do(t, http.MethodPost, "/v1/auth/login-verify", "", authsdk.LoginVerifyRequest{PendingSessionID: "missing", Code: "1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "session_expired", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/v1/auth/login-resend", "", authsdk.LoginResendRequest{PendingSessionID: "missing"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "session_expired", errorCode(t, rec))
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "+91-555-0100", domain.RoleFarmer)
	tok := s.login(t, "+91-555-0100")

	rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: tok.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var out authsdk.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.AccessToken)
	require.Empty(t, out.RefreshToken)

	rec = s.do(t, http.MethodGet, "/v1/auth/me", out.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: tok.AccessToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_token", errorCode(t, rec))
}

func TestRefreshTokenIsNotABearerToken(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "+91-555-0100", domain.RoleFarmer)
	tok := s.login(t, "+91-555-0100")

	rec := s.do(t, http.MethodGet, "/v1/auth/me", tok.RefreshToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	u := s.createUser(t, "ravi@example.com", domain.RoleCustomer)
	tok := s.login(t, "ravi@example.com")

	rec := s.do(t, http.MethodGet, "/v1/auth/me", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var id authsdk.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	require.Equal(t, u.ID, id.UserID)
	require.Equal(t, "ravi@example.com", id.Identifier)
	require.Empty(t, id.ActorID)
}

func TestImpersonate(t *testing.T) {
	s := newTestServer(t)
	admin := s.createUser(t, "admin@example.com", domain.RoleAdmin)
	farmer := s.createUser(t, "+91-555-0100", domain.RoleFarmer)
	adminTok := s.login(t, "admin@example.com")

	rec := s.do(t, http.MethodPost, "/v1/users/"+farmer.ID+"/impersonate", adminTok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok authsdk.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	require.Equal(t, farmer.ID, tok.Identity.UserID)
	require.Equal(t, admin.ID, tok.Identity.ActorID)

	rec = s.do(t, http.MethodGet, "/v1/auth/me", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var id authsdk.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	require.Equal(t, farmer.ID, id.UserID)
	require.Equal(t, admin.ID, id.ActorID)

	t.Run("non-admin", func(t *testing.T) {
		farmerTok := s.login(t, "+91-555-0100")
		rec := s.do(t, http.MethodPost, "/v1/users/"+admin.ID+"/impersonate", farmerTok.AccessToken, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, "forbidden", errorCode(t, rec))
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/v1/users/nope/impersonate", adminTok.AccessToken, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/v1/users/"+farmer.ID+"/impersonate", "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGetUser_RequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "admin@example.com", domain.RoleAdmin)
	farmer := s.createUser(t, "+91-555-0100", domain.RoleFarmer)

	adminTok := s.login(t, "admin@example.com")
	rec := s.do(t, http.MethodGet, "/v1/users/"+farmer.ID, adminTok.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	farmerTok := s.login(t, "+91-555-0100")
	rec = s.do(t, http.MethodGet, "/v1/users/"+farmer.ID, farmerTok.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var h authsdk.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	require.Equal(t, "ok", h.Status)
	require.Equal(t, "ok", h.Checks.Database)
	require.Equal(t, "ok", h.Checks.Ephemeral)
	require.NotEmpty(t, rec.Header().Get(slogx.RequestIDHeader))
}

func TestCreateUser(t *testing.T) {
	s := newTestServer(t)
	s.createUser(t, "admin@example.com", domain.RoleAdmin)
	adminTok := s.login(t, "admin@example.com")

	req := authsdk.CreateUserRequest{Identifier: "+91-555-0100", DisplayName: "Ravi", Password: "pw", Role: "farmer"}
	rec := s.do(t, http.MethodPost, "/v1/users", adminTok.AccessToken, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var id authsdk.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	require.Equal(t, "FARMER", id.Role)
	require.NotEmpty(t, id.UserID)

	rec = s.do(t, http.MethodPost, "/v1/users", adminTok.AccessToken, req)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", errorCode(t, rec))

	req.Identifier, req.Role = "x@example.com", "root"
	rec = s.do(t, http.MethodPost, "/v1/users", adminTok.AccessToken, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	farmerTok := s.login(t, "+91-555-0100")
	req.Role = "CUSTOMER"
	rec = s.do(t, http.MethodPost, "/v1/users", farmerTok.AccessToken, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateRole(t *testing.T) {
	s := newTestServer(t)
	admin := s.createUser(t, "admin@example.com", domain.RoleAdmin)
	farmer := s.createUser(t, "+91-555-0100", domain.RoleFarmer)
	adminTok := s.login(t, "admin@example.com")
	farmerTok := s.login(t, "+91-555-0100")

	rec := s.do(t, http.MethodPut, "/v1/users/"+farmer.ID+"/role", adminTok.AccessToken, authsdk.UpdateRoleRequest{Role: "customer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var id authsdk.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	require.Equal(t, "CUSTOMER", id.Role)

	// The next refresh carries the new role.
	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: farmerTok.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed authsdk.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	rec = s.do(t, http.MethodGet, "/v1/auth/me", refreshed.AccessToken, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &id))
	require.Equal(t, "CUSTOMER", id.Role)

	rec = s.do(t, http.MethodPut, "/v1/users/"+farmer.ID+"/role", adminTok.AccessToken, authsdk.UpdateRoleRequest{Role: "root"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", errorCode(t, rec))

	rec = s.do(t, http.MethodPut, "/v1/users/"+admin.ID+"/role", adminTok.AccessToken, authsdk.UpdateRoleRequest{Role: "FARMER"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/users/nope/role", adminTok.AccessToken, authsdk.UpdateRoleRequest{Role: "FARMER"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/users/"+admin.ID+"/role", farmerTok.AccessToken, authsdk.UpdateRoleRequest{Role: "FARMER"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteUser(t *testing.T) {
	s := newTestServer(t)
	admin := s.createUser(t, "admin@example.com", domain.RoleAdmin)
	farmer := s.createUser(t, "+91-555-0100", domain.RoleFarmer)
	adminTok := s.login(t, "admin@example.com")
	farmerTok := s.login(t, "+91-555-0100")

	rec := s.do(t, http.MethodDelete, "/v1/users/"+admin.ID, farmerTok.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/users/"+admin.ID, adminTok.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/users/"+farmer.ID, adminTok.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/users/"+farmer.ID, adminTok.AccessToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/auth/refresh", "", authsdk.RefreshRequest{RefreshToken: farmerTok.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/users/"+farmer.ID, adminTok.AccessToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
