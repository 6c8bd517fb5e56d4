package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zootopia/storefront/internal/models"
)

// TokenConfig holds signing configuration for session and MFA-scoped tokens
type TokenConfig struct {
	SessionSecret string
	MFASecret     string // falls back to SessionSecret when empty
	SessionExpiry time.Duration
	MFAExpiry     time.Duration
}

// VerifiedToken is the result of a successful token validation.
// It is either a *SessionToken or a *MFAChallengeToken.
type VerifiedToken interface {
	Subject() string
	Purpose() string
}

// SessionToken identifies an authenticated user for privileged operations
type SessionToken struct {
	UserID    string
	ID        string
	ExpiresAt time.Time
}

func (t *SessionToken) Subject() string { return t.UserID }
func (t *SessionToken) Purpose() string { return models.TokenPurposeSession }

// MFAChallengeToken binds a user to the second login step only
type MFAChallengeToken struct {
	UserID    string
	ID        string
	ExpiresAt time.Time
}

func (t *MFAChallengeToken) Subject() string { return t.UserID }
func (t *MFAChallengeToken) Purpose() string { return models.TokenPurposeMFA }

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	sessionSecret []byte
	mfaSecret     []byte
	sessionExpiry time.Duration
	mfaExpiry     time.Duration
	now           func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(cfg TokenConfig) *TokenManager {
	mfaSecret := cfg.MFASecret
	if mfaSecret == "" {
		mfaSecret = cfg.SessionSecret
	}

	return &TokenManager{
		sessionSecret: []byte(cfg.SessionSecret),
		mfaSecret:     []byte(mfaSecret),
		sessionExpiry: cfg.SessionExpiry,
		mfaExpiry:     cfg.MFAExpiry,
		now:           time.Now,
	}
}

// SetClock replaces the time source used for issuing and validating tokens
func (tm *TokenManager) SetClock(now func() time.Time) {
	tm.now = now
}

// SessionExpiry returns the lifetime of session tokens
func (tm *TokenManager) SessionExpiry() time.Duration {
	return tm.sessionExpiry
}

// GenerateSessionToken creates a long-lived session token
func (tm *TokenManager) GenerateSessionToken(userID string) (string, error) {
	return tm.sign(userID, models.TokenPurposeSession, tm.sessionExpiry, tm.sessionSecret)
}

// GenerateMFAToken creates a short-lived token that is only good for the MFA step
func (tm *TokenManager) GenerateMFAToken(userID string) (string, error) {
	return tm.sign(userID, models.TokenPurposeMFA, tm.mfaExpiry, tm.mfaSecret)
}

func (tm *TokenManager) sign(userID, purpose string, expiry time.Duration, key []byte) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("failed to sign %s token: empty user id", purpose)
	}

	now := tm.now()
	claims := &models.TokenClaims{
		Purpose: purpose,
		UserID:  userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", purpose, err)
	}

	return tokenString, nil
}

// ValidateToken verifies signature and expiry and returns the decoded token variant.
// Any failure is reported as models.ErrInvalidToken.
func (tm *TokenManager) ValidateToken(tokenString string) (VerifiedToken, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		// The purpose claim selects the key, so a token signed for one purpose
		// never validates under the other purpose's secret.
		switch claims.Purpose {
		case models.TokenPurposeSession:
			return tm.sessionSecret, nil
		case models.TokenPurposeMFA:
			return tm.mfaSecret, nil
		default:
			return nil, fmt.Errorf("unknown token purpose: %q", claims.Purpose)
		}
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, models.ErrInvalidToken
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	switch claims.Purpose {
	case models.TokenPurposeMFA:
		return &MFAChallengeToken{UserID: claims.UserID, ID: claims.ID, ExpiresAt: expiresAt}, nil
	default:
		return &SessionToken{UserID: claims.UserID, ID: claims.ID, ExpiresAt: expiresAt}, nil
	}
}

// ValidateMFAToken accepts only MFA-scoped tokens
func (tm *TokenManager) ValidateMFAToken(tokenString string) (*MFAChallengeToken, error) {
	verified, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	mfaToken, ok := verified.(*MFAChallengeToken)
	if !ok {
		return nil, models.ErrWrongTokenPurpose
	}
	return mfaToken, nil
}

// ValidateSessionToken accepts only session tokens
func (tm *TokenManager) ValidateSessionToken(tokenString string) (*SessionToken, error) {
	verified, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	session, ok := verified.(*SessionToken)
	if !ok {
		return nil, models.ErrWrongTokenPurpose
	}
	return session, nil
}
