package authsdk_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/farmgate/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

type gatewayFixture struct {
	auth     *fakeAuth
	baseURL  string
	creds    *authsdk.MemoryCredentialStore
	snapshot *authsdk.MemoryCredentialStore
	session  *authsdk.Session
	reauths  atomic.Int32
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	auth, srv := newFakeAuth(t)

	f := &gatewayFixture{
		auth:     auth,
		baseURL:  srv.URL,
		creds:    authsdk.NewMemoryCredentialStore(),
		snapshot: authsdk.NewMemoryCredentialStore(),
	}
	f.session = authsdk.NewSDKClient(srv.URL).NewSession(authsdk.SessionOptions{
		Credentials:      f.creds,
		Snapshot:         f.snapshot,
		OnReauthRequired: func() { f.reauths.Add(1) },
	})
	return f
}

func (f *gatewayFixture) get(t *testing.T, path string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.baseURL+path, nil)
	require.NoError(t, err)
	return f.session.HTTPClient().Do(req)
}

func (f *gatewayFixture) stored(t *testing.T) authsdk.Credentials {
	t.Helper()
	c, ok, err := f.creds.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return c
}

func TestGateway_AttachesBearer(t *testing.T) {
	f := newGatewayFixture(t)
	require.NoError(t, f.creds.Save(context.Background(), f.auth.issue("farmer-1", "")))

	resp, err := f.get(t, "/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Zero(t, f.auth.refreshes.Load())
}

func TestGateway_RefreshesAndRetriesOnce(t *testing.T) {
	f := newGatewayFixture(t)
	pair := f.auth.issue("farmer-1", "")
	require.NoError(t, f.creds.Save(context.Background(), pair))
	f.auth.expire(pair.AccessToken)

	resp, err := f.get(t, "/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, f.auth.refreshes.Load())
	require.EqualValues(t, 2, f.auth.apiCalls.Load())

	stored := f.stored(t)
	require.NotEqual(t, pair.AccessToken, stored.AccessToken, "new access token is persisted")
	require.Equal(t, pair.RefreshToken, stored.RefreshToken)
}

func TestGateway_RetryBound(t *testing.T) {
	f := newGatewayFixture(t)
	require.NoError(t, f.creds.Save(context.Background(), f.auth.issue("farmer-1", "")))

	resp, err := f.get(t, "/api/always401")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "second failure is surfaced as is")
	require.EqualValues(t, 1, f.auth.refreshes.Load())
	require.EqualValues(t, 2, f.auth.apiCalls.Load())
	require.Zero(t, f.reauths.Load())
}

func TestGateway_ReplaysBody(t *testing.T) {
	f := newGatewayFixture(t)
	pair := f.auth.issue("farmer-1", "")
	require.NoError(t, f.creds.Save(context.Background(), pair))
	f.auth.expire(pair.AccessToken)

	req, err := http.NewRequest(http.MethodPost, f.baseURL+"/api/data", strings.NewReader(`{"qty":3}`))
	require.NoError(t, err)
	resp, err := f.session.HTTPClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, `{"qty":3}`, out["body"])
}

func TestGateway_NoRefreshToken(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	pair := f.auth.issue("farmer-1", "")
	pair.RefreshToken = ""
	require.NoError(t, f.creds.Save(ctx, pair))
	require.NoError(t, f.snapshot.Save(ctx, f.auth.issue("admin-1", "")))
	f.auth.expire(pair.AccessToken)

	_, err := f.get(t, "/api/data")
	require.ErrorIs(t, err, authsdk.ErrReauthRequired)
	require.Zero(t, f.auth.refreshes.Load())
	require.EqualValues(t, 1, f.reauths.Load())

	_, ok, _ := f.creds.Load(ctx)
	require.False(t, ok, "primary cleared")
	_, ok, _ = f.snapshot.Load(ctx)
	require.False(t, ok, "snapshot cleared")
}

func TestGateway_RefreshRejected(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	f.auth.refreshReject = true
	pair := f.auth.issue("farmer-1", "")
	require.NoError(t, f.creds.Save(ctx, pair))
	f.auth.expire(pair.AccessToken)

	_, err := f.get(t, "/api/data")
	require.ErrorIs(t, err, authsdk.ErrReauthRequired)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
	require.EqualValues(t, 1, f.auth.refreshes.Load())
	require.EqualValues(t, 1, f.auth.apiCalls.Load(), "no replay after a failed refresh")

	_, ok, _ := f.creds.Load(ctx)
	require.False(t, ok)
}

func TestGateway_NoCredentials(t *testing.T) {
	f := newGatewayFixture(t)

	_, err := f.get(t, "/api/data")
	require.ErrorIs(t, err, authsdk.ErrReauthRequired)
	require.Zero(t, f.auth.refreshes.Load())
}

func TestGateway_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := newGatewayFixture(t)
	f.auth.refreshDelay.Store(int64(50 * time.Millisecond))
	pair := f.auth.issue("farmer-1", "")
	require.NoError(t, f.creds.Save(context.Background(), pair))
	f.auth.expire(pair.AccessToken)

	const n = 10
	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, f.baseURL+"/api/data", nil)
			resp, err := f.session.HTTPClient().Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, n, ok.Load())
	require.EqualValues(t, 1, f.auth.refreshes.Load())
}

func TestGateway_StorageFailure(t *testing.T) {
	auth, srv := newFakeAuth(t)
	store := &failingStore{CredentialStore: authsdk.NewMemoryCredentialStore()}
	require.NoError(t, store.Save(context.Background(), auth.issue("farmer-1", "")))
	store.failLoad.Store(true)

	session := authsdk.NewSDKClient(srv.URL).NewSession(authsdk.SessionOptions{Credentials: store})
	_, err := session.Me(context.Background())
	require.ErrorIs(t, err, authsdk.ErrStorageFailure)
	require.Zero(t, auth.apiCalls.Load())
}

type closeTracker struct {
	*strings.Reader
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return nil
}

func TestGateway_StorageFailureClosesBody(t *testing.T) {
	store := &failingStore{CredentialStore: authsdk.NewMemoryCredentialStore()}
	store.failLoad.Store(true)
	gw := &authsdk.Gateway{Credentials: store}

	body := &closeTracker{Reader: strings.NewReader(`{"qty":3}`)}
	req, err := http.NewRequest(http.MethodPost, "http://farmgate.invalid/api/data", body)
	require.NoError(t, err)

	_, err = gw.RoundTrip(req)
	require.ErrorIs(t, err, authsdk.ErrStorageFailure)
	require.True(t, body.closed.Load())
}

func TestGateway_RefreshAfterLogoutIsNotSaved(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	f.auth.refreshDelay.Store(int64(200 * time.Millisecond))
	pair := f.auth.issue("farmer-1", "")
	require.NoError(t, f.creds.Save(ctx, pair))
	f.auth.expire(pair.AccessToken)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, _ := http.NewRequest(http.MethodGet, f.baseURL+"/api/data", nil)
		if resp, err := f.session.HTTPClient().Do(req); err == nil {
			_ = resp.Body.Close()
		}
	}()
	require.Eventually(t, func() bool { return f.auth.refreshes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.creds.Clear(ctx))
	<-done

	_, ok, err := f.creds.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok, "a cleared scope is not repopulated")
}

func TestSession_ManageUsers(t *testing.T) {
	ctx := context.Background()
	f := newGatewayFixture(t)
	require.NoError(t, f.creds.Save(ctx, f.auth.issue("admin-1", "")))

	id, err := f.session.UpdateUserRole(ctx, "farmer-1", "customer")
	require.NoError(t, err)
	require.Equal(t, "CUSTOMER", id.Role)

	_, err = f.session.UpdateUserRole(ctx, "admin-1", "FARMER")
	require.ErrorIs(t, err, authsdk.ErrForbidden)

	require.NoError(t, f.session.DeleteUser(ctx, "farmer-1"))
	require.ErrorIs(t, f.session.DeleteUser(ctx, "farmer-1"), authsdk.ErrNotFound)
	require.ErrorIs(t, f.session.DeleteUser(ctx, "admin-1"), authsdk.ErrForbidden)
}
