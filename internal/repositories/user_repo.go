package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zootopia/storefront/internal/database"
	"github.com/zootopia/storefront/internal/models"
)

const userColumns = `id, name, email, password_hash, is_admin,
	mfa_enabled, mfa_otp_hash, mfa_otp_expires_at, mfa_otp_attempts, mfa_otp_last_sent_at,
	created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow populates a User, folding the nullable OTP columns into MFAState
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var otpHash *string
	var otpExpiresAt *time.Time

	err := scanner.Scan(
		&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.IsAdmin,
		&user.MFA.Enabled, &otpHash, &otpExpiresAt, &user.MFA.Attempts, &user.MFA.LastSentAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if otpHash != nil && otpExpiresAt != nil {
		user.MFA.Challenge = &models.OTPChallenge{
			CodeHash:  *otpHash,
			ExpiresAt: *otpExpiresAt,
		}
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

// Create inserts a user. MFA defaults to enabled unless the caller says otherwise.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, name, email, password_hash, is_admin, mfa_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Name, user.Email, user.PasswordHash, user.IsAdmin,
		user.MFA.Enabled, user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}

	return created, nil
}

// UpdateMFAState writes the whole MFA sub-record in a single statement
func (r *UserRepository) UpdateMFAState(ctx context.Context, id string, state *models.MFAState) error {
	var otpHash *string
	var otpExpiresAt *time.Time
	if state.Challenge != nil {
		otpHash = &state.Challenge.CodeHash
		otpExpiresAt = &state.Challenge.ExpiresAt
	}

	query := `
		UPDATE users
		SET mfa_enabled = $2,
			mfa_otp_hash = $3,
			mfa_otp_expires_at = $4,
			mfa_otp_attempts = $5,
			mfa_otp_last_sent_at = $6,
			updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		id, state.Enabled, otpHash, otpExpiresAt, state.Attempts, state.LastSentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update mfa state: %w", database.MapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
