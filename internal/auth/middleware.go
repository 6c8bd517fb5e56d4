package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	pkghttp "github.com/zootopia/storefront/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the verified session in context
	SessionContextKey contextKey = "session"
)

// SessionValidator validates session tokens
type SessionValidator interface {
	ValidateSessionToken(tokenString string) (*SessionToken, error)
}

// AuthMiddleware accepts a session token from the Authorization header or the
// session cookie and injects it into the request context. MFA-scoped tokens are rejected.
func AuthMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := extractToken(r)
			if err != nil {
				pkghttp.WriteUnauthorized(w, err.Error())
				return
			}

			// Wrong-purpose and invalid tokens get the same answer
			session, err := validator.ValidateSessionToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "not authorized, token failed")
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken prefers a Bearer header and falls back to the session cookie
func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			return "", errors.New("invalid authorization header format")
		}
		return strings.TrimSpace(parts[1]), nil
	}

	token, err := GetSessionCookie(r)
	if err != nil || token == "" {
		return "", errors.New("not authorized, no token")
	}
	return token, nil
}

// GetSessionFromContext extracts the verified session from request context
func GetSessionFromContext(r *http.Request) *SessionToken {
	session, ok := r.Context().Value(SessionContextKey).(*SessionToken)
	if !ok {
		return nil
	}
	return session
}
