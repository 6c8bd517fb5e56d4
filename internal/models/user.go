package models

import (
	"time"
)

// User is the storefront account. Only the MFA sub-record is mutated by the login flow.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	IsAdmin      bool
	MFA          MFAState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
