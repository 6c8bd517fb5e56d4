package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zootopia/storefront/internal/auth"
	"github.com/zootopia/storefront/internal/models"
	pkgauth "github.com/zootopia/storefront/pkg/auth"
	pkglogger "github.com/zootopia/storefront/pkg/logger"
)

// UserRepository defines the user store operations needed by the login flow
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdateMFAState(ctx context.Context, id string, state *models.MFAState) error
}

// CodeManager generates, hashes and checks one-time codes
type CodeManager interface {
	GenerateCode() (string, error)
	HashCode(code string) (string, error)
	VerifyCode(code, hash string) bool
}

// TimingDelay pads failed attempts to a uniform response time
type TimingDelay interface {
	WaitFrom(ctx context.Context, start time.Time, success bool)
}

// AuthConfig holds the one-time code policy
type AuthConfig struct {
	OTPTTL      time.Duration
	MaxAttempts int
}

// AuthService runs the two-step login: password first, then the emailed code
type AuthService struct {
	repo        UserRepository
	tm          *auth.TokenManager
	codes       CodeManager
	notifier    Notifier
	locker      auth.UserLocker
	timingDelay TimingDelay
	config      AuthConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	repo UserRepository,
	tm *auth.TokenManager,
	codes CodeManager,
	notifier Notifier,
	locker auth.UserLocker,
	timingDelay TimingDelay,
	config AuthConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	if locker == nil {
		locker = auth.NewLocalUserLocker()
	}
	return &AuthService{
		repo:        repo,
		tm:          tm,
		codes:       codes,
		notifier:    notifier,
		locker:      locker,
		timingDelay: timingDelay,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetClock replaces the time source used for challenge expiry
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
	Token   string `json:"token,omitempty"`
}

// LoginResult is either an issued session or a pending MFA challenge
type LoginResult struct {
	User         *UserResponse
	SessionToken string
	MFARequired  bool
	MFAToken     string
}

// dummyPasswordHash is compared against when the email is unknown so both
// failure paths spend the same bcrypt work
var dummyPasswordHash = sync.OnceValue(func() string {
	hash, err := pkgauth.HashPassword("not-a-real-password-for-timing")
	if err != nil {
		return ""
	}
	return hash
})

// Login checks the password and either issues a session or starts an MFA challenge
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (result *LoginResult, err error) {
	start := time.Now()
	defer func() {
		s.wait(ctx, start, err == nil)
	}()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, models.ErrBadRequest
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = pkgauth.ComparePassword(dummyPasswordHash(), password)
			s.logger.Info("login failed: invalid credentials")
			s.audit(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventLoginFailed,
				IPAddress:     ipAddress,
				UserAgent:     userAgent,
				FailureReason: "invalid_credentials",
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		s.audit(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginFailed,
			UserID:        user.ID,
			IPAddress:     ipAddress,
			UserAgent:     userAgent,
			FailureReason: "invalid_credentials",
		})
		return nil, models.ErrInvalidCredentials
	}

	if !user.MFA.Enabled {
		return s.issueSession(ctx, user, pkglogger.EventLoginSuccess, ipAddress, userAgent)
	}

	return s.startChallenge(ctx, user, ipAddress, userAgent)
}

// startChallenge stores a fresh code for user, emails it and returns an MFA-scoped token
func (s *AuthService) startChallenge(ctx context.Context, user *models.User, ipAddress, userAgent string) (*LoginResult, error) {
	code, err := s.codes.GenerateCode()
	if err != nil {
		s.logger.Error("failed to generate mfa code", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	codeHash, err := s.codes.HashCode(code)
	if err != nil {
		s.logger.Error("failed to hash mfa code", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.storeChallenge(ctx, user, codeHash); err != nil {
		return nil, err
	}

	// A send failure leaves the stored challenge in place; the next login replaces it
	if err := s.notifier.SendMFACode(ctx, user.Email, code, s.config.OTPTTL); err != nil {
		s.logger.Error("failed to send mfa code",
			slog.String("user_id", user.ID),
			slog.String("email", pkglogger.SanitizedEmail(user.Email)),
			slog.Any("error", err),
		)
		s.audit(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventMFAChallengeIssued,
			UserID:        user.ID,
			IPAddress:     ipAddress,
			UserAgent:     userAgent,
			FailureReason: "notifier_dispatch",
		})
		if errors.Is(err, models.ErrNotifierDispatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrNotifierDispatch, err)
	}

	mfaToken, err := s.tm.GenerateMFAToken(user.ID)
	if err != nil {
		s.logger.Error("failed to generate mfa token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("mfa challenge issued", slog.String("user_id", user.ID))
	s.audit(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventMFAChallengeIssued,
		UserID:    user.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	return &LoginResult{MFARequired: true, MFAToken: mfaToken}, nil
}

func (s *AuthService) storeChallenge(ctx context.Context, user *models.User, codeHash string) error {
	unlock, err := s.locker.Lock(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to acquire user lock", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	defer unlock()

	user.MFA.IssueChallenge(codeHash, s.now(), s.config.OTPTTL)

	if err := s.repo.UpdateMFAState(ctx, user.ID, &user.MFA); err != nil {
		s.logger.Error("failed to store mfa challenge", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// VerifyMFA checks a submitted code against the user's outstanding challenge.
// The attempt counter is incremented before a match is acted on.
func (s *AuthService) VerifyMFA(ctx context.Context, mfaToken, code, ipAddress, userAgent string) (result *LoginResult, err error) {
	start := time.Now()
	defer func() {
		s.wait(ctx, start, err == nil)
	}()

	mfaToken = strings.TrimSpace(mfaToken)
	code = strings.TrimSpace(code)
	if mfaToken == "" || code == "" {
		return nil, models.ErrBadRequest
	}

	token, err := s.tm.ValidateMFAToken(mfaToken)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, models.ErrWrongTokenPurpose) {
			reason = "wrong_token_purpose"
		}
		s.logger.Info("mfa verification failed: token rejected", slog.String("reason", reason))
		s.audit(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventMFAFailed,
			IPAddress:     ipAddress,
			UserAgent:     userAgent,
			FailureReason: reason,
		})
		if reason == "wrong_token_purpose" {
			return nil, models.ErrWrongTokenPurpose
		}
		return nil, models.ErrInvalidToken
	}

	unlock, err := s.locker.Lock(ctx, token.UserID)
	if err != nil {
		s.logger.Error("failed to acquire user lock", slog.String("user_id", token.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	defer unlock()

	user, err := s.repo.GetByID(ctx, token.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get user for mfa verification", slog.String("user_id", token.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if user == nil || !user.MFA.Enabled {
		return nil, s.verifyFailed(ctx, token.UserID, models.ErrMFANotAvailable, "mfa_not_available", ipAddress, userAgent)
	}

	state := &user.MFA

	if !state.HasActiveChallenge() {
		return nil, s.verifyFailed(ctx, user.ID, models.ErrNoActiveChallenge, "no_active_challenge", ipAddress, userAgent)
	}

	if state.ChallengeExpired(s.now()) {
		return nil, s.verifyFailed(ctx, user.ID, models.ErrChallengeExpired, "challenge_expired", ipAddress, userAgent)
	}

	if state.AttemptsExhausted(s.config.MaxAttempts) {
		return nil, s.verifyFailed(ctx, user.ID, models.ErrTooManyAttempts, "too_many_attempts", ipAddress, userAgent)
	}

	matched := s.codes.VerifyCode(code, state.Challenge.CodeHash)
	state.RecordAttempt()

	if !matched {
		if err := s.repo.UpdateMFAState(ctx, user.ID, state); err != nil {
			s.logger.Error("failed to record mfa attempt", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		return nil, s.verifyFailed(ctx, user.ID, models.ErrInvalidCode, "invalid_code", ipAddress, userAgent)
	}

	state.ClearChallenge()
	if err := s.repo.UpdateMFAState(ctx, user.ID, state); err != nil {
		s.logger.Error("failed to clear mfa challenge", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return s.issueSession(ctx, user, pkglogger.EventMFAVerified, ipAddress, userAgent)
}

func (s *AuthService) verifyFailed(ctx context.Context, userID string, err error, reason, ipAddress, userAgent string) error {
	s.logger.Info("mfa verification failed",
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
	s.audit(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventMFAFailed,
		UserID:        userID,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		FailureReason: reason,
	})
	return err
}

// Register creates a user with MFA enabled and signs them in
func (s *AuthService) Register(ctx context.Context, name, email, password, ipAddress, userAgent string) (*LoginResult, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, models.ErrConflict
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	passwordHash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.repo.Create(ctx, &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		MFA:          models.MFAState{Enabled: true},
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return s.issueSession(ctx, user, pkglogger.EventUserRegistered, ipAddress, userAgent)
}

// GetProfile returns the public view of a user
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user profile", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return userModelToResponse(user), nil
}

// SessionExpiry is the lifetime of issued session tokens
func (s *AuthService) SessionExpiry() time.Duration {
	return s.tm.SessionExpiry()
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User, event, ipAddress, userAgent string) (*LoginResult, error) {
	sessionToken, err := s.tm.GenerateSessionToken(user.ID)
	if err != nil {
		s.logger.Error("failed to generate session token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("session issued", slog.String("user_id", user.ID), slog.String("event", event))
	s.audit(ctx, pkglogger.AuditEvent{
		EventType: event,
		UserID:    user.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	resp := userModelToResponse(user)
	resp.Token = sessionToken

	return &LoginResult{User: resp, SessionToken: sessionToken}, nil
}

func (s *AuthService) audit(ctx context.Context, event pkglogger.AuditEvent) {
	s.auditLogger.LogAuthAttempt(ctx, event)
}

func (s *AuthService) wait(ctx context.Context, start time.Time, success bool) {
	if s.timingDelay != nil {
		s.timingDelay.WaitFrom(ctx, start, success)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:      user.ID,
		Name:    user.Name,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
	}
}
