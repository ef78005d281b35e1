package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

type fakeAccounts struct {
	mu       sync.Mutex
	verified map[string]string // username -> password
	err      error
}

func newFakeAccounts(users ...string) *fakeAccounts {
	f := &fakeAccounts{verified: map[string]string{}}
	for _, u := range users {
		f.verified[u] = "pw"
	}
	return f
}

func (f *fakeAccounts) IsVerified(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.verified[username]
	return ok, nil
}

func (f *fakeAccounts) Authenticate(_ context.Context, username, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if username == "pending" {
		return "", apperr.New(apperr.Unauthorized, "account is not verified")
	}
	pw, ok := f.verified[username]
	if !ok || pw != password {
		return "", apperr.New(apperr.InvalidCredential, "invalid username or password")
	}
	return username, nil
}

func (f *fakeAccounts) delete(username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.verified, username)
}

func newTestService(accounts AccountLookup) (*Service, *time.Time) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s := NewService("test-secret", 0, accounts)
	s.nowFn = func() time.Time { return now }
	return s, &now
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	accounts := newFakeAccounts("alice")
	s, now := newTestService(accounts)

	tok, err := s.Issue("alice")
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTTL), tok.ExpiresAt)

	got, err := s.Verify(context.Background(), tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	claims, err := s.Parse(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyAfterAccountDeletion(t *testing.T) {
	accounts := newFakeAccounts("alice")
	s, _ := newTestService(accounts)
	tok, err := s.Issue("alice")
	require.NoError(t, err)

	accounts.delete("alice")
	_, err = s.Parse(tok.Value)
	require.NoError(t, err, "signature is still valid")

	_, err = s.Verify(context.Background(), tok.Value)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))
}

func TestVerifyExpired(t *testing.T) {
	s, now := newTestService(newFakeAccounts("alice"))
	tok, err := s.Issue("alice")
	require.NoError(t, err)

	*now = now.Add(DefaultTTL + time.Second)
	_, err = s.Verify(context.Background(), tok.Value)
	assert.True(t, apperr.IsKind(err, apperr.Expired))
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	s, now := newTestService(newFakeAccounts("alice"))
	ctx := context.Background()

	_, err := s.Verify(ctx, "")
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	_, err = s.Verify(ctx, "not-a-jwt")
	assert.True(t, apperr.IsKind(err, apperr.Malformed))

	other := NewService("other-secret", 0, newFakeAccounts("alice"))
	forged, err := other.Issue("alice")
	require.NoError(t, err)
	_, err = s.Verify(ctx, forged.Value)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	exp := jwt.NewNumericDate(now.Add(time.Hour))
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = s.Verify(ctx, hs512)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Username: "alice"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = s.Verify(ctx, noExp)
	assert.Error(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = s.Verify(ctx, noUser)
	assert.True(t, apperr.IsKind(err, apperr.Malformed))
}

func TestVerifyStorageFailure(t *testing.T) {
	accounts := newFakeAccounts("alice")
	s, _ := newTestService(accounts)
	tok, err := s.Issue("alice")
	require.NoError(t, err)

	accounts.err = &apperr.Error{Kind: apperr.PersistenceFailure, Msg: "storage unavailable", Err: errors.New("down"), Retryable: true}
	_, err = s.Verify(context.Background(), tok.Value)
	assert.True(t, apperr.IsKind(err, apperr.PersistenceFailure))
	assert.Equal(t, http.StatusServiceUnavailable, VerifyStatus(err))
}

func TestTokenFromRequest(t *testing.T) {
	c := Cookies{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, c.TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", c.TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-bearer")
	assert.Equal(t, "from-bearer", c.TokenFromRequest(r))

	r.Header.Set("token", "from-header")
	assert.Equal(t, "from-header", c.TokenFromRequest(r))
}

type testServer struct {
	svc      *Service
	accounts *fakeAccounts
	mux      *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	accounts := newFakeAccounts("alice")
	svc, _ := newTestService(accounts)
	cookies := Cookies{Secure: true}
	logger := zap.NewNop().Sugar()
	h := NewHandler(svc, accounts, cookies, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("GET /verifyToken", h.VerifyToken)
	mux.HandleFunc("GET /logout", h.Logout)
	mux.Handle("GET /me", RequireSession(svc, cookies, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := UsernameFromContext(r.Context())
		utilities.Respond(w, http.StatusOK, map[string]string{"username": u}, "")
	})))
	return &testServer{svc: svc, accounts: accounts, mux: mux}
}

func (s *testServer) do(req *http.Request) (*httptest.ResponseRecorder, utilities.APIResponse) {
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	var resp utilities.APIResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName {
			return c
		}
	}
	return nil
}

func TestLoginSetsCookie(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")
	rec, resp := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "alice", data["username"])

	ck := sessionCookie(rec)
	require.NotNil(t, ck)
	assert.Equal(t, data["accessToken"], ck.Value)
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteNoneMode, ck.SameSite)

	// the cookie alone authenticates
	req = httptest.NewRequest(http.MethodGet, "/verifyToken", nil)
	req.AddCookie(ck)
	rec, resp = s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"username": "alice"}, resp.Data)
}

func TestLoginForm(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{"username": {"alice"}, "password": {"pw"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec, _ := s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginFailures(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{
		`{"username":"alice","password":"wrong"}`,
		`{"username":"ghost","password":"pw"}`,
		`{"username":"pending","password":"pw"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
		rec, resp := s.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, body)
		assert.False(t, resp.Success)
		assert.Nil(t, sessionCookie(rec))
	}
}

func TestVerifyTokenFailureClearsCookie(t *testing.T) {
	s := newTestServer(t)
	tok, err := s.svc.Issue("alice")
	require.NoError(t, err)
	s.accounts.delete("alice")

	req := httptest.NewRequest(http.MethodGet, "/verifyToken", nil)
	req.Header.Set("token", tok.Value)
	rec, resp := s.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "user not found", resp.Message)
	ck := sessionCookie(rec)
	require.NotNil(t, ck)
	assert.Empty(t, ck.Value)
	assert.Equal(t, -1, ck.MaxAge)
}

func TestLogoutClearsCookie(t *testing.T) {
	s := newTestServer(t)
	rec, resp := s.do(httptest.NewRequest(http.MethodGet, "/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out successfully", resp.Message)
	require.NotNil(t, sessionCookie(rec))
}

func TestRequireSession(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := s.svc.Issue("alice")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	rec, resp := s.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"username": "alice"}, resp.Data)
}
