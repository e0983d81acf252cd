package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/handshake"
	"github.com/MrEthical07/handshake/jwt"
	"github.com/MrEthical07/handshake/session"
	"github.com/MrEthical07/handshake/userdb"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	identity handshake.ExternalIdentity
}

func (p *stubProvider) Name() string { return "google" }

func (p *stubProvider) AuthCodeURL(req handshake.AuthRequest) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(req.State)
}

func (p *stubProvider) Exchange(context.Context, handshake.ExchangeRequest) (handshake.ExternalIdentity, error) {
	return p.identity, nil
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type mailbox struct {
	mu   sync.Mutex
	last string
}

func (m *mailbox) Send(_ context.Context, msg handshake.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = codePattern.FindString(msg.Text)
	return nil
}

func (m *mailbox) code() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

type fixture struct {
	router    *gin.Engine
	sessions  *session.Manager
	directory *userdb.MemoryDirectory
	mail      *mailbox
}

func newFixture(t *testing.T, checks map[string]HealthCheck) *fixture {
	t.Helper()

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    bytes.Repeat([]byte("k"), 32),
	})
	require.NoError(t, err)

	sessions, err := session.NewManager(session.NewMemoryStore(time.Now), tokens, session.ManagerConfig{TTL: time.Hour})
	require.NoError(t, err)

	cfg := handshake.DefaultConfig()
	cfg.Redirect.FrontendURL = "https://app.example.com"

	directory := userdb.NewMemoryDirectory()
	mail := &mailbox{}
	engine, err := handshake.New().
		WithConfig(cfg).
		WithProviders(&stubProvider{identity: handshake.ExternalIdentity{
			Provider:          "google",
			ProviderSubjectID: "sub-1",
			Email:             "ada@example.com",
			EmailVerified:     true,
			DisplayName:       "Ada",
		}}).
		WithDirectory(directory).
		WithSessionIssuer(sessions).
		WithNotifier(mail).
		WithMetricsEnabled(true).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	h, err := New(Options{
		Engine:    engine,
		Sessions:  sessions,
		Directory: directory,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("handshake_challenge_issued_total 0\n"))
		}),
		Checks: checks,
	})
	require.NoError(t, err)

	return &fixture{router: h.Router(), sessions: sessions, directory: directory, mail: mail}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	t.Fatalf("cookie %s not set; headers: %v", name, rec.Header())
	return nil
}

// startLogin runs the OAuth leg and returns the challenge token.
func (f *fixture) startLogin(t *testing.T, extra ...*http.Cookie) string {
	t.Helper()

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/google/login?from=/plans/42", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://idp.example.com/authorize"))
	state := cookieFrom(t, rec, stateCookieName)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state.Value), nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: state.Value})
	for _, c := range extra {
		req.AddCookie(c)
	}
	rec = f.do(req)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "app.example.com", loc.Host)
	require.Equal(t, "/verify", loc.Path)

	token := loc.Query().Get("challenge")
	require.NotEmpty(t, token)
	return token
}

func (f *fixture) verify(token, code string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{"challenge": token, "code": code})
	req := httptest.NewRequest(http.MethodPost, "/auth/challenge/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestLoginFlowEndToEnd(t *testing.T) {
	f := newFixture(t, nil)

	token := f.startLogin(t)
	code := f.mail.code()
	require.Len(t, code, 6)

	rec := f.verify(token, wrongCode(code))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_code"}`, rec.Body.String())

	rec = f.verify(token, code)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://app.example.com/onboarding", resp.Redirect)
	assert.NotEmpty(t, resp.AccessToken)

	sessCookie := cookieFrom(t, rec, session.CookieName)
	assert.True(t, sessCookie.Secure)
	assert.True(t, sessCookie.HttpOnly)

	rec = f.verify(token, code)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.JSONEq(t, `{"error":"challenge_invalid"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sessCookie)
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "ada@example.com", me.Email)
	assert.Equal(t, handshake.RoleUser, me.Role)
	assert.Nil(t, me.OnboardingCompletedAt)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(sessCookie)
	rec = f.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sessCookie)
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked session must invalidate its access token")
}

func TestOnboardedUserHonorsReturnHint(t *testing.T) {
	f := newFixture(t, nil)

	profile, err := f.directory.ResolveOrCreate(context.Background(), handshake.ExternalIdentity{
		Provider: "google", ProviderSubjectID: "sub-1", Email: "ada@example.com", EmailVerified: true,
	})
	require.NoError(t, err)
	require.NoError(t, f.directory.CompleteOnboarding(context.Background(), profile.UserID, time.Now()))

	token := f.startLogin(t)
	rec := f.verify(token, f.mail.code())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://app.example.com/plans/42", resp.Redirect)
}

func TestMeWithoutSession(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"message":"Unauthenticated"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "forged"})
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallbackFailureRedirects(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		cookie bool
		want   string
	}{
		{name: "denied", query: "error=access_denied", cookie: true, want: "failed"},
		{name: "missing state cookie", query: "code=abc", cookie: false, want: "error"},
		{name: "provider error", query: "error=server_error", cookie: true, want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
			require.Equal(t, http.StatusFound, rec.Code)
			state := cookieFrom(t, rec, stateCookieName)

			req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state="+url.QueryEscape(state.Value)+"&"+tt.query, nil)
			if tt.cookie {
				req.AddCookie(&http.Cookie{Name: stateCookieName, Value: state.Value})
			}
			rec = f.do(req)
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "https://app.example.com/login?oauth="+tt.want, rec.Header().Get("Location"))
		})
	}
}

func TestCallbackRevokesExistingSession(t *testing.T) {
	f := newFixture(t, nil)

	token := f.startLogin(t)
	rec := f.verify(token, f.mail.code())
	require.Equal(t, http.StatusOK, rec.Code)
	sessCookie := cookieFrom(t, rec, session.CookieName)

	// A new login from the same browser ends the old session first.
	f.startLogin(t, sessCookie)

	_, err := f.sessions.Authenticate(context.Background(), "0", sessCookie.Value)
	assert.True(t, errors.Is(err, session.ErrSessionNotFound), "old session must be revoked, got %v", err)
}

func TestUnboundCallbackKeepsLiveSession(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "error without state", query: "error=access_denied", want: "failed"},
		{name: "error with unbound state", query: "error=access_denied&state=guess", want: "failed"},
		{name: "code without state cookie", query: "code=abc&state=guess", want: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			token := f.startLogin(t)
			rec := f.verify(token, f.mail.code())
			require.Equal(t, http.StatusOK, rec.Code)
			sessCookie := cookieFrom(t, rec, session.CookieName)

			req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+tt.query, nil)
			req.AddCookie(sessCookie)
			rec = f.do(req)
			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "https://app.example.com/login?oauth="+tt.want, rec.Header().Get("Location"))
			for _, c := range rec.Result().Cookies() {
				assert.NotEqual(t, session.CookieName, c.Name, "session cookie must not be touched")
			}

			_, err := f.sessions.Authenticate(context.Background(), "0", sessCookie.Value)
			assert.NoError(t, err, "a callback without a bound state must not end the session")
		})
	}
}

func TestNoSessionBeforeVerification(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/google/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	state := cookieFrom(t, rec, stateCookieName)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(state.Value), nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: state.Value})
	rec = f.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	require.NotEmpty(t, f.mail.code())

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"message":"Unauthenticated"}`, rec.Body.String())
}

func TestVerifyRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/challenge/verify", strings.NewReader(`{"challenge":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.verify("unknown-token", "123456")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestUnknownProvider(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/github/login", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	healthy := newFixture(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
	})
	rec := healthy.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = healthy.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "handshake_challenge_issued_total")

	broken := newFixture(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
	})
	rec = broken.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres")
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
