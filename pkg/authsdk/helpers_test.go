package authsdk_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
)

// fakeAuth is a minimal in-process auth service plus a protected API.
type fakeAuth struct {
	mu      sync.Mutex
	users   map[string]authsdk.Identity // user id -> identity
	access  map[string]grant            // access token -> grant
	refresh map[string]string           // refresh token -> user id
	next    int

	refreshes     atomic.Int32
	apiCalls      atomic.Int32
	refreshDelay  atomic.Int64 // time.Duration
	refreshReject bool
}

type grant struct {
	userID string
	actor  string
}

func newFakeAuth(t *testing.T) (*fakeAuth, *httptest.Server) {
	t.Helper()

	f := &fakeAuth{
		users: map[string]authsdk.Identity{
			"admin-1":  {UserID: "admin-1", Identifier: "admin@example.com", Role: "ADMIN"},
			"farmer-1": {UserID: "farmer-1", Identifier: "+91-555-0100", Role: "FARMER"},
			"cust-1":   {UserID: "cust-1", Identifier: "+91-555-0101", Role: "CUSTOMER"},
		},
		access:  map[string]grant{},
		refresh: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login-start", f.loginStart)
	mux.HandleFunc("POST /v1/auth/login-resend", f.loginResend)
	mux.HandleFunc("POST /v1/auth/login-verify", f.loginVerify)
	mux.HandleFunc("POST /v1/auth/refresh", f.handleRefresh)
	mux.HandleFunc("GET /v1/auth/me", f.me)
	mux.HandleFunc("POST /v1/users/{id}/impersonate", f.impersonate)
	mux.HandleFunc("PUT /v1/users/{id}/role", f.updateRole)
	mux.HandleFunc("DELETE /v1/users/{id}", f.deleteUser)
	mux.HandleFunc("/api/data", f.data)
	mux.HandleFunc("/api/always401", func(w http.ResponseWriter, r *http.Request) {
		f.apiCalls.Add(1)
		authsdk.ErrInvalidToken.WriteError(w)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

// issue mints a pair for userID and records it as valid.
func (f *fakeAuth) issue(userID, actor string) authsdk.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	c := authsdk.Credentials{
		AccessToken:  fmt.Sprintf("access-%s-%d", userID, f.next),
		RefreshToken: fmt.Sprintf("refresh-%s-%d", userID, f.next),
		Identity:     f.users[userID],
	}
	c.Identity.ActorID = actor
	f.access[c.AccessToken] = grant{userID: userID, actor: actor}
	f.refresh[c.RefreshToken] = userID
	return c
}

// expire invalidates an access token, as if its exp had passed.
func (f *fakeAuth) expire(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.access, token)
}

func (f *fakeAuth) userFor(r *http.Request) (authsdk.Identity, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.access[token]
	if !ok {
		return authsdk.Identity{}, false
	}
	u := f.users[g.userID]
	u.ActorID = g.actor
	return u, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAuth) loginStart(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginStartRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Secret != "pw" {
		authsdk.ErrInvalidCredentials.WriteError(w)
		return
	}
	writeJSON(w, authsdk.ChallengeResponse{PendingSessionID: "p1:" + req.Identifier, ExpiresIn: 300})
}

func (f *fakeAuth) loginResend(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginResendRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	writeJSON(w, authsdk.ChallengeResponse{PendingSessionID: req.PendingSessionID, ExpiresIn: 240})
}

func (f *fakeAuth) loginVerify(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginVerifyRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Code != "482913" {
		authsdk.ErrInvalidCode.WriteError(w)
		return
	}

	identifier := strings.TrimPrefix(req.PendingSessionID, "p1:")
	for id, u := range f.users {
		if u.Identifier == identifier {
			c := f.issue(id, "")
			writeJSON(w, authsdk.TokenResponse{
				AccessToken:  c.AccessToken,
				RefreshToken: c.RefreshToken,
				TokenType:    "Bearer",
				ExpiresIn:    900,
				Identity:     &c.Identity,
			})
			return
		}
	}
	authsdk.ErrSessionExpired.WriteError(w)
}

func (f *fakeAuth) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshes.Add(1)
	time.Sleep(time.Duration(f.refreshDelay.Load()))

	var req authsdk.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	userID, ok := f.refresh[req.RefreshToken]
	f.mu.Unlock()
	if !ok || f.refreshReject {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	c := f.issue(userID, "")
	writeJSON(w, authsdk.TokenResponse{AccessToken: c.AccessToken, TokenType: "Bearer", ExpiresIn: 900})
}

func (f *fakeAuth) me(w http.ResponseWriter, r *http.Request) {
	u, ok := f.userFor(r)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}
	writeJSON(w, u)
}

func (f *fakeAuth) impersonate(w http.ResponseWriter, r *http.Request) {
	u, ok := f.userFor(r)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}
	if u.Role != "ADMIN" && u.ActorID == "" {
		authsdk.ErrForbidden.WriteError(w)
		return
	}
	target := r.PathValue("id")
	if _, ok := f.users[target]; !ok {
		authsdk.ErrNotFound.WriteError(w)
		return
	}

	actor := u.UserID
	if u.ActorID != "" {
		actor = u.ActorID
	}
	c := f.issue(target, actor)
	writeJSON(w, authsdk.TokenResponse{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    900,
		Identity:     &c.Identity,
	})
}

// admin resolves the caller and the {id} target for an admin-only call. It
// writes the error response itself when ok is false.
func (f *fakeAuth) admin(w http.ResponseWriter, r *http.Request) (target string, ok bool) {
	u, ok := f.userFor(r)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return "", false
	}
	if u.Role != "ADMIN" || u.UserID == r.PathValue("id") {
		authsdk.ErrForbidden.WriteError(w)
		return "", false
	}
	target = r.PathValue("id")
	f.mu.Lock()
	_, ok = f.users[target]
	f.mu.Unlock()
	if !ok {
		authsdk.ErrNotFound.WriteError(w)
		return "", false
	}
	return target, true
}

func (f *fakeAuth) updateRole(w http.ResponseWriter, r *http.Request) {
	target, ok := f.admin(w, r)
	if !ok {
		return
	}
	var req authsdk.UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	f.mu.Lock()
	u := f.users[target]
	u.Role = strings.ToUpper(req.Role)
	f.users[target] = u
	f.mu.Unlock()
	writeJSON(w, u)
}

func (f *fakeAuth) deleteUser(w http.ResponseWriter, r *http.Request) {
	target, ok := f.admin(w, r)
	if !ok {
		return
	}
	f.mu.Lock()
	delete(f.users, target)
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeAuth) data(w http.ResponseWriter, r *http.Request) {
	f.apiCalls.Add(1)
	u, ok := f.userFor(r)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, map[string]string{"user_id": u.UserID, "body": string(body)})
}

// failingStore wraps a store and fails Save when failSave is set.
type failingStore struct {
	authsdk.CredentialStore
	failSave atomic.Bool
	failLoad atomic.Bool
}

func (s *failingStore) Save(ctx context.Context, c authsdk.Credentials) error {
	if s.failSave.Load() {
		return fmt.Errorf("%w: disk full", authsdk.ErrStorageFailure)
	}
	return s.CredentialStore.Save(ctx, c)
}

func (s *failingStore) Load(ctx context.Context) (authsdk.Credentials, bool, error) {
	if s.failLoad.Load() {
		return authsdk.Credentials{}, false, fmt.Errorf("%w: io error", authsdk.ErrStorageFailure)
	}
	return s.CredentialStore.Load(ctx)
}
