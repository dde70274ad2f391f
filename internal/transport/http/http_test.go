package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socializor-server-go/internal/domain/auth"
	"socializor-server-go/internal/domain/user"
	"socializor-server-go/internal/platform/clock"
	platformerrors "socializor-server-go/internal/platform/errors"
	platformtesting "socializor-server-go/internal/platform/testing"
)

const testPassword = "correct horse"

type memoryUsers struct {
	byID map[string]*user.Account
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*user.Account, error) {
	for _, a := range m.byID {
		if a.Email == user.NormalizeEmail(email) {
			return a, nil
		}
	}
	return nil, platformerrors.Wrap(platformerrors.KindNotFound, "test.find_by_email", "user not found", user.ErrNotFound)
}

func (m *memoryUsers) FindByID(_ context.Context, id string) (*user.Account, error) {
	if a, ok := m.byID[id]; ok {
		return a, nil
	}
	return nil, platformerrors.Wrap(platformerrors.KindNotFound, "test.find_by_id", "user not found", user.ErrNotFound)
}

func (m *memoryUsers) Create(_ context.Context, a *user.Account) error {
	m.byID[a.ID] = a
	return nil
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(msg, args...))
}

func (l *recordingLogger) Debug(msg string, args ...interface{}) { l.record("DEBUG", msg, args...) }
func (l *recordingLogger) Info(msg string, args ...interface{})  { l.record("INFO", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...interface{})  { l.record("WARN", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...interface{}) { l.record("ERROR", msg, args...) }

func (l *recordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

type testServer struct {
	router *Router
	issuer *auth.Issuer
	users  *memoryUsers
	logs   *recordingLogger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	issuer, err := auth.NewIssuer(auth.StaticKeys{Private: platformtesting.RSAKey(t)}, auth.IssuerOptions{})
	require.NoError(t, err)

	hash, err := auth.HashPassword(testPassword, auth.WithArgonTime(1), auth.WithArgonMemory(1024))
	require.NoError(t, err)
	display := "Una"
	code := "123456"
	users := &memoryUsers{byID: map[string]*user.Account{
		"u1": {
			Profile:      user.Profile{ID: "u1", Name: "una", DisplayName: &display, Gender: user.GenderFemale, Department: "Physics", Email: "una@example.com"},
			PasswordHash: hash,
		},
		"u2": {
			Profile:          user.Profile{ID: "u2", Name: "pending", Email: "pending@example.com"},
			PasswordHash:     hash,
			VerificationCode: &code,
		},
	}}

	cfg := platformtesting.SetupTestConfig(t)
	cfg.Log.Level = "info"
	logs := &recordingLogger{}
	router, err := Build(Options{Config: cfg, AuthMiddleware: AuthGate(issuer, logs)})
	require.NoError(t, err)
	NewTokenHandler(issuer, users, logs).RegisterRoutes(router)

	return &testServer{router: router, issuer: issuer, users: users, logs: logs}
}

func (s *testServer) do(method, path, contentType, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) bearer(t *testing.T, subject string) http.Header {
	t.Helper()
	cred, err := s.issuer.Issue(subject)
	require.NoError(t, err)
	return http.Header{"Authorization": {auth.BearerHeader(cred.Value())}}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAuthGate_NoHeader(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/token/refresh", "", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "no header exists", body["message"])
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, 401, body["code"])
}

func TestAuthGate_RejectsWithGenericMessage(t *testing.T) {
	s := newTestServer(t)

	stale, err := auth.NewIssuer(auth.StaticKeys{Private: platformtesting.RSAKey(t)}, auth.IssuerOptions{
		Clock: clock.Fake(time.Now().Add(-6 * 24 * time.Hour)),
	})
	require.NoError(t, err)
	expired, err := stale.Issue("u1")
	require.NoError(t, err)

	foreign, err := auth.NewIssuer(auth.StaticKeys{Private: platformtesting.RSAKey(t)}, auth.IssuerOptions{Issuer: "Elsewhere"})
	require.NoError(t, err)
	wrongIssuer, err := foreign.Issue("u1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		cause  string
	}{
		{name: "wrong scheme", header: "Basic dXNlcjpwdw==", cause: auth.ErrTokenMalformed.Error()},
		{name: "bearer without token", header: "Bearer", cause: auth.ErrTokenMalformed.Error()},
		{name: "garbage", header: "Bearer not.a.jwt", cause: auth.ErrTokenMalformed.Error()},
		{name: "expired", header: auth.BearerHeader(expired.Value()), cause: auth.ErrTokenExpired.Error()},
		{name: "foreign issuer", header: auth.BearerHeader(wrongIssuer.Value()), cause: auth.ErrTokenIssuer.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, "/api/users/self", "", "", http.Header{"Authorization": {tt.header}})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, auth.MessageInvalidToken, decode(t, rec)["message"])
			assert.NotContains(t, rec.Body.String(), tt.cause)
			assert.Contains(t, s.logs.String(), tt.cause)
		})
	}
}

func TestNewToken(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantMessage string
	}{
		{name: "success", contentType: "application/json", body: `{"email":"una@example.com","password":"correct horse"}`, wantStatus: 200},
		{name: "vendor json with charset", contentType: "application/vnd.api+json; charset=utf-8", body: `{"email":"una@example.com","password":"correct horse"}`, wantStatus: 200},
		{name: "missing password", contentType: "application/json", body: `{"email":"una@example.com"}`, wantStatus: 400},
		{name: "email not a string", contentType: "application/json", body: `{"email":42,"password":"x"}`, wantStatus: 400},
		{name: "malformed json", contentType: "application/json", body: `{`, wantStatus: 400},
		{name: "unknown user", contentType: "application/json", body: `{"email":"nobody@example.com","password":"x"}`, wantStatus: 404},
		{name: "unverified user", contentType: "application/json", body: `{"email":"pending@example.com","password":"correct horse"}`, wantStatus: 404},
		{name: "wrong password", contentType: "application/json", body: `{"email":"una@example.com","password":"wrong"}`, wantStatus: 403, wantMessage: "Incorrect credentials"},
		{name: "not json", contentType: "text/plain", body: `email=una@example.com`, wantStatus: 415},
		{name: "no content type", body: `{}`, wantStatus: 415},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/token/new", tt.contentType, tt.body, nil)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			body := decode(t, rec)
			if tt.wantStatus != http.StatusOK {
				assert.NotEmpty(t, body["message"])
				if tt.wantMessage != "" {
					assert.Equal(t, tt.wantMessage, body["message"])
				}
				return
			}

			var resp auth.TokenResponse
			require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
			subject, err := s.issuer.Verify(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, "u1", subject)
			assert.InDelta(t, time.Now().Add(auth.DefaultMaxAge).UnixMilli(), resp.Expiration, float64(2*time.Second/time.Millisecond))
			assert.Zero(t, resp.Expiration%1000)
		})
	}
}

func TestRefreshToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/token/refresh", "", "", s.bearer(t, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp auth.TokenResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	subject, err := s.issuer.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)
}

func TestSelf(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/users/self", "", "", s.bearer(t, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "u1", body["id"])
	assert.Equal(t, "una", body["name"])
	assert.Equal(t, "Una", body["displayName"])
	assert.EqualValues(t, user.GenderFemale, body["gender"])
	assert.Equal(t, "Physics", body["department"])
	assert.Equal(t, "una@example.com", body["email"])
	assert.NotContains(t, rec.Body.String(), "argon2")
}

func TestSelf_UnknownSubjectIsInternal(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/users/self", "", "", s.bearer(t, "ghost"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, s.logs.String(), "WARN verified subject ghost has no user record")
}

func TestNoRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/nothing", "", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decode(t, rec)["message"])
}

func TestRespondError_CollapsesNonErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	RespondError(c, http.StatusFound, "", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", decode(t, rec)["message"])
}

func TestRespondErr_HidesInternalMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	RespondErr(c, platformerrors.New(platformerrors.KindStorage, "x", "database at /var/db is locked"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/db")

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	RespondErr(c, platformerrors.New(platformerrors.KindConflict, "x", "email is already registered"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email is already registered", decode(t, rec)["message"])
}

func TestIsJSONContentType(t *testing.T) {
	for _, ok := range []string{"application/json", "application/json; charset=utf-8", "application/problem+json"} {
		assert.True(t, IsJSONContentType(ok), ok)
	}
	for _, bad := range []string{"", "text/json", "application/jsonp", "application/x-www-form-urlencoded", "application/json;"} {
		assert.False(t, IsJSONContentType(bad), bad)
	}
}
