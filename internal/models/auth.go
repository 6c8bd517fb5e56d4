package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token purposes carried in the "purpose" claim
const (
	TokenPurposeSession = "session"
	TokenPurposeMFA     = "mfa"
)

// TokenClaims is the JWT payload shared by session and MFA-scoped tokens
type TokenClaims struct {
	Purpose string `json:"purpose"`
	UserID  string `json:"user_id"`
	jwt.RegisteredClaims
}
