package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/zootopia/storefront/internal/auth"
	"github.com/zootopia/storefront/internal/models"
	"github.com/zootopia/storefront/internal/services"
	pkghttp "github.com/zootopia/storefront/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password, ipAddress, userAgent string) (*services.LoginResult, error)
	VerifyMFA(ctx context.Context, mfaToken, code, ipAddress, userAgent string) (*services.LoginResult, error)
	Register(ctx context.Context, name, email, password, ipAddress, userAgent string) (*services.LoginResult, error)
	GetProfile(ctx context.Context, userID string) (*services.UserResponse, error)
	SessionExpiry() time.Duration
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service      AuthServiceInterface
	ipConfig     *pkghttp.IPConfig
	cookieConfig auth.CookieConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, cookieConfig auth.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:      service,
		ipConfig:     ipConfig,
		cookieConfig: cookieConfig,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyMFARequest represents the request body for the second login step
type VerifyMFARequest struct {
	MFAToken string `json:"mfaToken" validate:"required"`
	Code     string `json:"code" validate:"required,max=32"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// MessageResponse is a plain acknowledgement body
type MessageResponse struct {
	Message string `json:"message"`
}

// Login handles the password step.
// @Router /api/users/auth [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.service.Login(r.Context(), req.Email, req.Password, ipAddress, userAgent)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	if result.MFARequired {
		pkghttp.WriteJSON(w, http.StatusOK, models.MFARequiredResponse{
			MFARequired: true,
			MFAToken:    result.MFAToken,
		})
		return
	}

	h.writeSession(w, http.StatusOK, result)
}

// VerifyMFA handles the code step.
// @Router /api/users/auth/mfa [post]
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "mfaToken and code are required")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, "mfaToken and code are required")
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.service.VerifyMFA(r.Context(), req.MFAToken, req.Code, ipAddress, userAgent)
	if err != nil {
		writeVerifyError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, result)
}

// Register creates an account and signs the user in.
// @Router /api/users/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password, ipAddress, userAgent)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "User already exists")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid user data")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	h.writeSession(w, http.StatusCreated, result)
}

// Logout clears the session cookie.
// @Router /api/users/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Logged out successfully"})
}

// Profile returns the signed-in user. Requires AuthMiddleware.
// @Router /api/users/profile [get]
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "not authorized, no token")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), session.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, result *services.LoginResult) {
	if result == nil || result.User == nil || result.SessionToken == "" {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.SetSessionCookie(w, result.SessionToken, h.service.SessionExpiry(), h.cookieConfig)
	pkghttp.WriteJSON(w, status, result.User)
}

func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Email and password are required")
	case errors.Is(err, models.ErrNotifierDispatch):
		pkghttp.WriteServiceUnavailable(w, "Unable to send verification code. Please try again.")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// writeVerifyError maps verification failures. Wrong-purpose tokens are
// answered exactly like invalid ones.
func writeVerifyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "mfaToken and code are required")
	case errors.Is(err, models.ErrInvalidToken), errors.Is(err, models.ErrWrongTokenPurpose):
		pkghttp.WriteUnauthorized(w, "Invalid or expired MFA token")
	case errors.Is(err, models.ErrMFANotAvailable):
		pkghttp.WriteUnauthorized(w, "MFA not available")
	case errors.Is(err, models.ErrNoActiveChallenge):
		pkghttp.WriteUnauthorized(w, "No active code. Please login again.")
	case errors.Is(err, models.ErrChallengeExpired):
		pkghttp.WriteUnauthorized(w, "Code expired. Please login again.")
	case errors.Is(err, models.ErrTooManyAttempts):
		pkghttp.WriteTooManyRequests(w, "Too many attempts. Please login again.")
	case errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteUnauthorized(w, "Invalid code")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
