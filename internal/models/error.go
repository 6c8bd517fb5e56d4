package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotifierDispatch   = errors.New("failed to dispatch verification code")

	// Token errors
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrWrongTokenPurpose = errors.New("token purpose mismatch")

	// MFA verification errors
	ErrMFANotAvailable   = errors.New("mfa not available")
	ErrNoActiveChallenge = errors.New("no active code")
	ErrChallengeExpired  = errors.New("code expired")
	ErrTooManyAttempts   = errors.New("too many attempts")
	ErrInvalidCode       = errors.New("invalid code")
)
