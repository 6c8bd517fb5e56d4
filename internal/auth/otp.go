package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	OTPLength          = 6
	DefaultOTPHashCost = 10

	otpMin   = 100000
	otpRange = 900000 // 100000-999999
)

// OTPManager generates one-time login codes and hashes them for storage
type OTPManager struct {
	cost int
}

// NewOTPManager creates an OTPManager with the given bcrypt cost
func NewOTPManager(cost int) *OTPManager {
	if cost < bcrypt.MinCost {
		cost = DefaultOTPHashCost
	}
	return &OTPManager{cost: cost}
}

// GenerateCode returns a uniformly random 6-digit code
func (m *OTPManager) GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpRange))
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPLength, n.Int64()+otpMin), nil
}

// HashCode returns a salted bcrypt hash of the code
func (m *OTPManager) HashCode(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("code cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), m.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(hash), nil
}

// VerifyCode reports whether code matches hash. Malformed hashes never match.
func (m *OTPManager) VerifyCode(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
