package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zootopia/storefront/internal/auth"
	"github.com/zootopia/storefront/internal/models"
	"github.com/zootopia/storefront/internal/services"
	pkghttp "github.com/zootopia/storefront/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds a verified session to the request context
func WithSessionContext(req *http.Request, userID string) *http.Request {
	session := &auth.SessionToken{
		UserID:    userID,
		ID:        "test-jti",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, session)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks status, error code and message of an error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError, expectedMessage string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	if expectedMessage != "" {
		assert.Equal(t, expectedMessage, resp.Message, "Error message mismatch")
	}
}

// SessionCookie returns the session cookie set on the response, if any
func SessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	return nil
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc      func(ctx context.Context, email, password, ipAddress, userAgent string) (*services.LoginResult, error)
	VerifyMFAFunc  func(ctx context.Context, mfaToken, code, ipAddress, userAgent string) (*services.LoginResult, error)
	RegisterFunc   func(ctx context.Context, name, email, password, ipAddress, userAgent string) (*services.LoginResult, error)
	GetProfileFunc func(ctx context.Context, userID string) (*services.UserResponse, error)
	Expiry         time.Duration
}

func (m *MockAuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, email, password, ipAddress, userAgent)
}

func (m *MockAuthService) VerifyMFA(ctx context.Context, mfaToken, code, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.VerifyMFAFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.VerifyMFAFunc(ctx, mfaToken, code, ipAddress, userAgent)
}

func (m *MockAuthService) Register(ctx context.Context, name, email, password, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, name, email, password, ipAddress, userAgent)
}

func (m *MockAuthService) GetProfile(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.GetProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetProfileFunc(ctx, userID)
}

func (m *MockAuthService) SessionExpiry() time.Duration {
	if m.Expiry == 0 {
		return 30 * 24 * time.Hour
	}
	return m.Expiry
}

// SessionResult builds a successful LoginResult for tests
func SessionResult(userID, token string) *services.LoginResult {
	return &services.LoginResult{
		User: &services.UserResponse{
			ID:    userID,
			Name:  "Judy Hopps",
			Email: "judy@zootopia.test",
			Token: token,
		},
		SessionToken: token,
	}
}
