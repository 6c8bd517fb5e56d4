package models

import (
	"time"
)

// OTPChallenge is an outstanding one-time code. Hash and expiry only exist together.
type OTPChallenge struct {
	CodeHash  string
	ExpiresAt time.Time
}

// MFAState is the per-user second-factor record stored on the user row
type MFAState struct {
	Enabled    bool
	Challenge  *OTPChallenge // nil when no code is outstanding
	Attempts   int
	LastSentAt *time.Time
}

// IssueChallenge replaces any outstanding challenge with a fresh one
func (m *MFAState) IssueChallenge(codeHash string, now time.Time, ttl time.Duration) {
	sentAt := now
	m.Challenge = &OTPChallenge{
		CodeHash:  codeHash,
		ExpiresAt: now.Add(ttl),
	}
	m.Attempts = 0
	m.LastSentAt = &sentAt
}

// ClearChallenge drops the outstanding challenge after a successful verification.
// LastSentAt is kept.
func (m *MFAState) ClearChallenge() {
	m.Challenge = nil
	m.Attempts = 0
}

// HasActiveChallenge reports whether a code hash and expiry are stored
func (m *MFAState) HasActiveChallenge() bool {
	return m.Challenge != nil && m.Challenge.CodeHash != ""
}

// ChallengeExpired reports whether the outstanding challenge is past its expiry
func (m *MFAState) ChallengeExpired(now time.Time) bool {
	if m.Challenge == nil {
		return true
	}
	return now.After(m.Challenge.ExpiresAt)
}

// AttemptsExhausted reports whether no further guesses are allowed
func (m *MFAState) AttemptsExhausted(maxAttempts int) bool {
	return m.Attempts >= maxAttempts
}

// RecordAttempt consumes one verification attempt
func (m *MFAState) RecordAttempt() {
	m.Attempts++
}

// MFARequiredResponse is returned when a second factor is required for login
type MFARequiredResponse struct {
	MFARequired bool   `json:"mfaRequired"`
	MFAToken    string `json:"mfaToken"`
}
