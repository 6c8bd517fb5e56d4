package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zootopia/storefront/internal/auth"
	"github.com/zootopia/storefront/internal/models"
	pkglogger "github.com/zootopia/storefront/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword  = "correct-horse-battery"
	testIP        = "203.0.113.7"
	testUserAgent = "go-test"
	wrongCode     = "000000" // generated codes are always >= 100000
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type authFixture struct {
	svc      *AuthService
	store    *MemoryUserStore
	notifier *MockNotifier
	clock    *FakeClock
	tm       *auth.TokenManager
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestUser(t *testing.T, id, email string, mfaEnabled bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           id,
		Name:         "Judy Hopps",
		Email:        email,
		PasswordHash: string(hash),
		MFA:          models.MFAState{Enabled: mfaEnabled},
	}
}

func newAuthFixture(t *testing.T, users ...*models.User) *authFixture {
	t.Helper()

	clock := NewFakeClock(testEpoch)
	tm := auth.NewTokenManager(auth.TokenConfig{
		SessionSecret: "session-secret-for-tests-0123456789",
		MFASecret:     "mfa-secret-for-tests-0123456789",
		SessionExpiry: 30 * 24 * time.Hour,
		MFAExpiry:     15 * time.Minute,
	})
	tm.SetClock(clock.Now)

	store := NewMemoryUserStore(users...)
	notifier := &MockNotifier{}
	logger := testLogger()

	svc := NewAuthService(
		store.Repository(),
		tm,
		auth.NewOTPManager(bcrypt.MinCost),
		notifier,
		auth.NewLocalUserLocker(),
		nil,
		AuthConfig{OTPTTL: 10 * time.Minute, MaxAttempts: 5},
		logger,
		pkglogger.NewAuditLogger(logger),
	)
	svc.SetClock(clock.Now)

	return &authFixture{svc: svc, store: store, notifier: notifier, clock: clock, tm: tm}
}

// loginForChallenge logs in an MFA user and returns the MFA token and emailed code
func (f *authFixture) loginForChallenge(t *testing.T, email string) (string, string) {
	t.Helper()
	result, err := f.svc.Login(context.Background(), email, testPassword, testIP, testUserAgent)
	require.NoError(t, err)
	require.True(t, result.MFARequired)
	return result.MFAToken, f.notifier.LastCode()
}

func (f *authFixture) verify(mfaToken, code string) (*LoginResult, error) {
	return f.svc.VerifyMFA(context.Background(), mfaToken, code, testIP, testUserAgent)
}

func TestLogin_MFADisabled_IssuesSessionWithoutChallenge(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", false))

	result, err := f.svc.Login(context.Background(), "judy@zootopia.test", testPassword, testIP, testUserAgent)
	require.NoError(t, err)

	assert.False(t, result.MFARequired)
	assert.Empty(t, result.MFAToken)
	require.NotNil(t, result.User)
	assert.Equal(t, "u1", result.User.ID)
	assert.Equal(t, result.SessionToken, result.User.Token)

	session, err := f.tm.ValidateSessionToken(result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)

	assert.Empty(t, f.notifier.Sent)
	assert.Nil(t, f.store.MFAState("u1").Challenge)
	assert.Equal(t, 0, f.store.Updates())
}

func TestLogin_MFAEnabled_ReturnsScopedTokenAndDispatchesOnce(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))

	result, err := f.svc.Login(context.Background(), "judy@zootopia.test", testPassword, testIP, testUserAgent)
	require.NoError(t, err)

	assert.True(t, result.MFARequired)
	assert.Nil(t, result.User)
	assert.Empty(t, result.SessionToken)

	mfaToken, err := f.tm.ValidateMFAToken(result.MFAToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", mfaToken.UserID)

	_, err = f.tm.ValidateSessionToken(result.MFAToken)
	assert.ErrorIs(t, err, models.ErrWrongTokenPurpose)

	require.Len(t, f.notifier.Sent, 1)
	sent := f.notifier.Sent[0]
	assert.Equal(t, "judy@zootopia.test", sent.Email)
	assert.Len(t, sent.Code, auth.OTPLength)
	assert.Equal(t, 10*time.Minute, sent.ValidFor)

	state := f.store.MFAState("u1")
	require.NotNil(t, state.Challenge)
	assert.NotEqual(t, sent.Code, state.Challenge.CodeHash)
	assert.Equal(t, testEpoch.Add(10*time.Minute), state.Challenge.ExpiresAt)
	assert.Equal(t, 0, state.Attempts)
	require.NotNil(t, state.LastSentAt)
	assert.Equal(t, testEpoch, *state.LastSentAt)
}

func TestLogin_InvalidCredentials_AreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))

	_, errUnknown := f.svc.Login(context.Background(), "nick@zootopia.test", testPassword, testIP, testUserAgent)
	_, errWrong := f.svc.Login(context.Background(), "judy@zootopia.test", "wrong-password", testIP, testUserAgent)

	require.ErrorIs(t, errUnknown, models.ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, models.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())

	assert.Empty(t, f.notifier.Sent)
	assert.Nil(t, f.store.MFAState("u1").Challenge)
}

func TestLogin_NormalizesEmail(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", false))

	result, err := f.svc.Login(context.Background(), "  Judy@Zootopia.TEST ", testPassword, testIP, testUserAgent)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionToken)
}

func TestLogin_MissingFields(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "", testPassword, testIP, testUserAgent)
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = f.svc.Login(context.Background(), "judy@zootopia.test", "", testIP, testUserAgent)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestLogin_NotifierFailure(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	f.notifier.SendMFACodeFunc = func(ctx context.Context, email, code string, validFor time.Duration) error {
		return errors.New("ses: throttled")
	}

	result, err := f.svc.Login(context.Background(), "judy@zootopia.test", testPassword, testIP, testUserAgent)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrNotifierDispatch)
}

func TestLogin_StorageFailure(t *testing.T) {
	user := newTestUser(t, "u1", "judy@zootopia.test", true)
	repo := NewMemoryUserStore(user).Repository()
	repo.UpdateMFAStateFunc = func(ctx context.Context, id string, state *models.MFAState) error {
		return errors.New("connection reset")
	}

	f := newAuthFixture(t)
	f.svc.repo = repo

	_, err := f.svc.Login(context.Background(), "judy@zootopia.test", testPassword, testIP, testUserAgent)
	assert.ErrorIs(t, err, models.ErrInternalServer)
	assert.Empty(t, f.notifier.Sent)
}

func TestLogin_TimingDelayPadsFailuresOnly(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", false))

	var calls []bool
	f.svc.timingDelay = &MockTimingDelay{
		WaitFromFunc: func(ctx context.Context, start time.Time, success bool) {
			calls = append(calls, success)
		},
	}

	_, _ = f.svc.Login(context.Background(), "judy@zootopia.test", "nope-nope-nope", testIP, testUserAgent)
	_, _ = f.svc.Login(context.Background(), "judy@zootopia.test", testPassword, testIP, testUserAgent)

	assert.Equal(t, []bool{false, true}, calls)
}

func TestVerifyMFA_CorrectCode_IssuesSessionAndClearsChallenge(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	mfaToken, code := f.loginForChallenge(t, "judy@zootopia.test")

	result, err := f.verify(mfaToken, code)
	require.NoError(t, err)
	require.NotNil(t, result.User)
	assert.Equal(t, "judy@zootopia.test", result.User.Email)

	session, err := f.tm.ValidateSessionToken(result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)

	state := f.store.MFAState("u1")
	assert.Nil(t, state.Challenge)
	assert.Equal(t, 0, state.Attempts)
	assert.NotNil(t, state.LastSentAt)

	// Replaying the same code finds nothing to verify against
	_, err = f.verify(mfaToken, code)
	assert.ErrorIs(t, err, models.ErrNoActiveChallenge)
}

func TestVerifyMFA_FourWrongGuessesThenCorrect(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	mfaToken, code := f.loginForChallenge(t, "judy@zootopia.test")

	for i := 1; i <= 4; i++ {
		f.clock.Set(testEpoch.Add(time.Duration(i) * time.Minute))

		_, err := f.verify(mfaToken, wrongCode)
		require.ErrorIs(t, err, models.ErrInvalidCode, "guess %d", i)
		assert.Equal(t, i, f.store.MFAState("u1").Attempts, "guess %d", i)
	}

	f.clock.Set(testEpoch.Add(5 * time.Minute))
	result, err := f.verify(mfaToken, code)
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionToken)
	assert.Nil(t, f.store.MFAState("u1").Challenge)

	f.clock.Set(testEpoch.Add(6 * time.Minute))
	_, err = f.verify(mfaToken, code)
	assert.ErrorIs(t, err, models.ErrNoActiveChallenge)
}

func TestVerifyMFA_FiveWrongGuessesLockOutCorrectCode(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	mfaToken, code := f.loginForChallenge(t, "judy@zootopia.test")

	for i := 1; i <= 5; i++ {
		f.clock.Set(testEpoch.Add(time.Duration(i) * time.Minute))
		_, err := f.verify(mfaToken, wrongCode)
		require.ErrorIs(t, err, models.ErrInvalidCode, "guess %d", i)
	}
	require.Equal(t, 5, f.store.MFAState("u1").Attempts)

	f.clock.Set(testEpoch.Add(6 * time.Minute))
	result, err := f.verify(mfaToken, code)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)

	// A rejected-for-attempts submission does not consume anything further
	state := f.store.MFAState("u1")
	assert.Equal(t, 5, state.Attempts)
	assert.NotNil(t, state.Challenge)
}

func TestVerifyMFA_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"at expiry is still valid", 10 * time.Minute, nil},
		{"one second past expiry", 10*time.Minute + time.Second, models.ErrChallengeExpired},
		{"well past expiry", 14 * time.Minute, models.ErrChallengeExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
			mfaToken, code := f.loginForChallenge(t, "judy@zootopia.test")

			f.clock.Set(testEpoch.Add(tt.elapsed))
			_, err := f.verify(mfaToken, code)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.store.MFAState("u1").Attempts)
		})
	}
}

func TestVerifyMFA_ExpiryWinsOverExhaustedAttempts(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	mfaToken, code := f.loginForChallenge(t, "judy@zootopia.test")

	for i := 0; i < 5; i++ {
		_, _ = f.verify(mfaToken, wrongCode)
	}

	f.clock.Set(testEpoch.Add(11 * time.Minute))
	_, err := f.verify(mfaToken, code)
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestVerifyMFA_TokenRejections(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	mfaToken, code := f.loginForChallenge(t, "judy@zootopia.test")

	sessionToken, err := f.tm.GenerateSessionToken("u1")
	require.NoError(t, err)

	_, err = f.verify("not-a-jwt", code)
	assert.ErrorIs(t, err, models.ErrInvalidToken)

	_, err = f.verify(sessionToken, code)
	assert.ErrorIs(t, err, models.ErrWrongTokenPurpose)

	_, err = f.verify("", code)
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = f.verify(mfaToken, "  ")
	assert.ErrorIs(t, err, models.ErrBadRequest)

	// None of the rejections above touched the challenge
	assert.Equal(t, 0, f.store.MFAState("u1").Attempts)

	f.clock.Advance(16 * time.Minute)
	_, err = f.verify(mfaToken, code)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestVerifyMFA_MFANotAvailable(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u2", "nick@zootopia.test", false))

	ghostToken, err := f.tm.GenerateMFAToken("ghost")
	require.NoError(t, err)
	_, err = f.verify(ghostToken, "123456")
	assert.ErrorIs(t, err, models.ErrMFANotAvailable)

	disabledToken, err := f.tm.GenerateMFAToken("u2")
	require.NoError(t, err)
	_, err = f.verify(disabledToken, "123456")
	assert.ErrorIs(t, err, models.ErrMFANotAvailable)
}

func TestVerifyMFA_NoActiveChallenge(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))

	mfaToken, err := f.tm.GenerateMFAToken("u1")
	require.NoError(t, err)

	_, err = f.verify(mfaToken, "123456")
	assert.ErrorIs(t, err, models.ErrNoActiveChallenge)
}

func TestVerifyMFA_NewLoginResetsAttempts(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	firstToken, _ := f.loginForChallenge(t, "judy@zootopia.test")

	for i := 0; i < 3; i++ {
		_, _ = f.verify(firstToken, wrongCode)
	}
	require.Equal(t, 3, f.store.MFAState("u1").Attempts)

	f.clock.Advance(2 * time.Minute)
	secondToken, code := f.loginForChallenge(t, "judy@zootopia.test")

	state := f.store.MFAState("u1")
	assert.Equal(t, 0, state.Attempts)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), state.Challenge.ExpiresAt)

	_, err := f.verify(secondToken, code)
	assert.NoError(t, err)
}

func TestVerifyMFA_ConcurrentGuessesNeverUndercount(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	mfaToken, _ := f.loginForChallenge(t, "judy@zootopia.test")

	const guesses = 12
	var wg sync.WaitGroup
	errs := make([]error, guesses)
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.verify(mfaToken, wrongCode)
		}(i)
	}
	wg.Wait()

	var invalid, tooMany int
	for _, err := range errs {
		switch {
		case errors.Is(err, models.ErrInvalidCode):
			invalid++
		case errors.Is(err, models.ErrTooManyAttempts):
			tooMany++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 5, invalid)
	assert.Equal(t, guesses-5, tooMany)
	assert.Equal(t, 5, f.store.MFAState("u1").Attempts)
}

func TestVerifyMFA_StorageFailureOnAttempt(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	mfaToken, _ := f.loginForChallenge(t, "judy@zootopia.test")

	repo := f.svc.repo.(*MockUserRepository)
	repo.UpdateMFAStateFunc = func(ctx context.Context, id string, state *models.MFAState) error {
		return fmt.Errorf("write failed")
	}

	_, err := f.verify(mfaToken, wrongCode)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestVerifyMFA_LockFailure(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))
	mfaToken, code := f.loginForChallenge(t, "judy@zootopia.test")

	ctx, cancel := context.WithCancel(context.Background())
	unlock, err := f.svc.locker.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer unlock()
	cancel()

	_, err = f.svc.VerifyMFA(ctx, mfaToken, code, testIP, testUserAgent)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestRegister(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))

	result, err := f.svc.Register(context.Background(), "Nick Wilde", "Nick@Zootopia.test", "hustle-since-1995", testIP, testUserAgent)
	require.NoError(t, err)
	require.NotNil(t, result.User)
	assert.Equal(t, "nick@zootopia.test", result.User.Email)
	assert.Equal(t, "Nick Wilde", result.User.Name)
	assert.NotEmpty(t, result.SessionToken)

	state := f.store.MFAState(result.User.ID)
	assert.True(t, state.Enabled)
	assert.Nil(t, state.Challenge)

	_, err = f.svc.Register(context.Background(), "Judy", "judy@zootopia.test", "carrots-and-more", testIP, testUserAgent)
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.svc.Register(context.Background(), "Flash", "flash@zootopia.test", "short", testIP, testUserAgent)
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = f.svc.Register(context.Background(), "", "empty@zootopia.test", "long-enough-pass", testIP, testUserAgent)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestGetProfile(t *testing.T) {
	f := newAuthFixture(t, newTestUser(t, "u1", "judy@zootopia.test", true))

	profile, err := f.svc.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", profile.ID)
	assert.Empty(t, profile.Token)

	_, err = f.svc.GetProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
