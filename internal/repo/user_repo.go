package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventhub/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByPhone(ctx context.Context, countryCode, mobile string) (model.User, error)
	CreateVerified(ctx context.Context, name, countryCode, mobile string) (model.User, error)
	MarkMobileVerified(ctx context.Context, id uuid.UUID) (model.User, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, name, email, country_code, mobile, is_mobile_verified, created_at, updated_at`

// GetByID retrieves a user by id
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetByPhone retrieves a user by the (countryCode, mobile) unique key
func (r *userRepo) GetByPhone(ctx context.Context, countryCode, mobile string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE country_code = $1 AND mobile = $2
	`, countryCode, mobile)
	return scanUser(row)
}

// CreateVerified inserts a user with is_mobile_verified already true. The
// upsert absorbs a concurrent create for the same phone: the loser lands on
// the existing row and just confirms verification.
func (r *userRepo) CreateVerified(ctx context.Context, name, countryCode, mobile string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (name, country_code, mobile, is_mobile_verified)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (country_code, mobile)
		DO UPDATE SET is_mobile_verified = TRUE, updated_at = now()
		RETURNING `+userColumns, name, countryCode, mobile)
	user, err := scanUser(row)
	if err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// MarkMobileVerified sets is_mobile_verified = TRUE. The flag never reverts
// through this flow.
func (r *userRepo) MarkMobileVerified(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET is_mobile_verified = TRUE, updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("mark mobile verified: %w", err)
	}
	return user, nil
}

func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	var idStr string
	err := row.Scan(
		&idStr,
		&user.Name,
		&user.Email,
		&user.CountryCode,
		&user.Mobile,
		&user.IsMobileVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user id: %w", err)
	}
	return user, nil
}
