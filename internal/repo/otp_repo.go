package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventhub/server/internal/model"
)

// OtpRepo defines the interface for OTP record repository operations
type OtpRepo interface {
	Create(ctx context.Context, countryCode, mobile, codeHash string, expiresAt time.Time) (model.OtpRecord, error)
	LatestUnconsumed(ctx context.Context, countryCode, mobile string) (model.OtpRecord, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkConsumed(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, now, consumedBefore time.Time) (int64, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

const otpColumns = `id, country_code, mobile, code_hash, expires_at, attempts, consumed, created_at`

// Create inserts a fresh OTP record. Existing records for the phone are left
// in place; they are superseded, not reused (most-recent-wins on verify).
func (r *otpRepo) Create(ctx context.Context, countryCode, mobile, codeHash string, expiresAt time.Time) (model.OtpRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO otps (country_code, mobile, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+otpColumns, countryCode, mobile, codeHash, expiresAt)

	rec, err := scanOtp(row)
	if err != nil {
		return model.OtpRecord{}, fmt.Errorf("insert otp: %w", err)
	}
	return rec, nil
}

// LatestUnconsumed returns the most-recently-created unconsumed record for
// the phone number, regardless of expiry or attempt count; the caller applies
// the lifecycle checks in its fixed order.
func (r *otpRepo) LatestUnconsumed(ctx context.Context, countryCode, mobile string) (model.OtpRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+otpColumns+`
		FROM otps
		WHERE country_code = $1 AND mobile = $2 AND consumed = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`, countryCode, mobile)

	rec, err := scanOtp(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpRecord{}, ErrNotFound
		}
		return model.OtpRecord{}, fmt.Errorf("query latest otp: %w", err)
	}
	return rec, nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the new
// value. The increment is durable before any code comparison happens.
func (r *otpRepo) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otps
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// MarkConsumed sets consumed = TRUE for the record.
func (r *otpRepo) MarkConsumed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otps SET consumed = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes records that expired before now, plus consumed
// records created before consumedBefore. Predicate-conditioned, so it is
// idempotent and safe to run concurrently with itself.
func (r *otpRepo) DeleteExpired(ctx context.Context, now, consumedBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM otps
		WHERE expires_at < $1
		   OR (consumed = TRUE AND created_at < $2)
	`, now, consumedBefore)
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func scanOtp(row *sql.Row) (model.OtpRecord, error) {
	var rec model.OtpRecord
	var idStr string
	err := row.Scan(
		&idStr,
		&rec.CountryCode,
		&rec.Mobile,
		&rec.CodeHash,
		&rec.ExpiresAt,
		&rec.Attempts,
		&rec.Consumed,
		&rec.CreatedAt,
	)
	if err != nil {
		return model.OtpRecord{}, err
	}
	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpRecord{}, fmt.Errorf("parse otp id: %w", err)
	}
	return rec, nil
}
