package routes_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zootopia/storefront/internal/auth"
	"github.com/zootopia/storefront/internal/handlers"
	"github.com/zootopia/storefront/internal/middleware"
	"github.com/zootopia/storefront/internal/models"
	"github.com/zootopia/storefront/internal/routes"
	"github.com/zootopia/storefront/internal/services"
	pkglogger "github.com/zootopia/storefront/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

const password = "correct-horse-battery"

type testServer struct {
	router   http.Handler
	notifier *services.MockNotifier
}

func newTestServer(t *testing.T, users ...*models.User) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm := auth.NewTokenManager(auth.TokenConfig{
		SessionSecret: "session-secret-for-tests-0123456789",
		MFASecret:     "mfa-secret-for-tests-0123456789",
		SessionExpiry: 30 * 24 * time.Hour,
		MFAExpiry:     15 * time.Minute,
	})
	store := services.NewMemoryUserStore(users...)
	notifier := &services.MockNotifier{}

	svc := services.NewAuthService(
		store.Repository(),
		tm,
		auth.NewOTPManager(bcrypt.MinCost),
		notifier,
		auth.NewLocalUserLocker(),
		nil,
		services.AuthConfig{OTPTTL: 10 * time.Minute, MaxAttempts: 5},
		logger,
		pkglogger.NewAuditLogger(logger),
	)

	router := chi.NewRouter()
	routes.RegisterRoutes(
		router,
		handlers.NewAuthHandler(svc, nil, auth.CookieConfig{SameSite: "strict"}),
		handlers.NewHealthHandler(nil),
		tm,
		middleware.RateLimitConfig{RequestsPerMinute: 100},
	)

	return &testServer{router: router, notifier: notifier}
}

func mfaUser(t *testing.T) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "u1",
		Name:         "Judy Hopps",
		Email:        "judy@zootopia.test",
		PasswordHash: string(hash),
		MFA:          models.MFAState{Enabled: true},
	}
}

func (s *testServer) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) profile(t *testing.T, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/users/profile", nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestLoginFlow_EndToEnd(t *testing.T) {
	srv := newTestServer(t, mfaUser(t))

	rec := srv.post(t, "/api/users/auth", map[string]string{"email": "judy@zootopia.test", "password": password})
	require.Equal(t, http.StatusOK, rec.Code)

	var challenge models.MFARequiredResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	require.True(t, challenge.MFARequired)
	require.NotEmpty(t, challenge.MFAToken)
	require.Len(t, srv.notifier.Sent, 1)

	// The MFA-scoped token is not a session
	rec = srv.profile(t, challenge.MFAToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.post(t, "/api/users/auth/mfa", map[string]string{
		"mfaToken": challenge.MFAToken,
		"code":     srv.notifier.LastCode(),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var user services.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "u1", user.ID)
	require.NotEmpty(t, user.Token)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, user.Token, cookie.Value)

	rec = srv.profile(t, user.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A used code cannot be replayed
	rec = srv.post(t, "/api/users/auth/mfa", map[string]string{
		"mfaToken": challenge.MFAToken,
		"code":     srv.notifier.LastCode(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "No active code")
}

func TestLoginFlow_SessionTokenRejectedAtCodeStep(t *testing.T) {
	user := mfaUser(t)
	user.MFA.Enabled = false
	srv := newTestServer(t, user)

	rec := srv.post(t, "/api/users/auth", map[string]string{"email": "judy@zootopia.test", "password": password})
	require.Equal(t, http.StatusOK, rec.Code)

	var profile services.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	require.NotEmpty(t, profile.Token)

	rec = srv.post(t, "/api/users/auth/mfa", map[string]string{"mfaToken": profile.Token, "code": "123456"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid or expired MFA token")
}

func TestLoginFlow_AttemptLimit(t *testing.T) {
	srv := newTestServer(t, mfaUser(t))

	rec := srv.post(t, "/api/users/auth", map[string]string{"email": "judy@zootopia.test", "password": password})
	var challenge models.MFARequiredResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))

	for i := 0; i < 5; i++ {
		rec = srv.post(t, "/api/users/auth/mfa", map[string]string{"mfaToken": challenge.MFAToken, "code": "000000"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec = srv.post(t, "/api/users/auth/mfa", map[string]string{
		"mfaToken": challenge.MFAToken,
		"code":     srv.notifier.LastCode(),
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.post(t, "/api/users/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
