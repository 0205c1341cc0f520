package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventhub/server/internal/model"
)

// SessionRepo defines the interface for refresh-token session repository operations
type SessionRepo interface {
	Create(ctx context.Context, userID uuid.UUID, refreshTokenHash string, userAgent, ip *string, expiresAt time.Time) (uuid.UUID, error)
	ActiveByUser(ctx context.Context, userID uuid.UUID) ([]model.Session, error)
	AllByUser(ctx context.Context, userID uuid.UUID) ([]model.Session, error)
	DeleteByID(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Create inserts a new session row. Sessions are independent rows, so
// concurrent logins for the same user never contend.
func (r *sessionRepo) Create(ctx context.Context, userID uuid.UUID, refreshTokenHash string, userAgent, ip *string, expiresAt time.Time) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (user_id, refresh_token_hash, user_agent, ip, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, userID, refreshTokenHash, userAgent, ip, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session id: %w", err)
	}
	return id, nil
}

// ActiveByUser returns the user's non-expired sessions.
func (r *sessionRepo) ActiveByUser(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	return r.queryByUser(ctx, `
		SELECT id, user_id, refresh_token_hash, user_agent, ip, expires_at, created_at
		FROM sessions
		WHERE user_id = $1 AND expires_at > now()
	`, userID)
}

// AllByUser returns every session for the user, expired or not.
func (r *sessionRepo) AllByUser(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	return r.queryByUser(ctx, `
		SELECT id, user_id, refresh_token_hash, user_agent, ip, expires_at, created_at
		FROM sessions
		WHERE user_id = $1
	`, userID)
}

// DeleteByID deletes the session and reports whether a row was removed. Of
// two racing rotations scanning the same session, only the one whose delete
// takes effect may proceed.
func (r *sessionRepo) DeleteByID(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// DeleteAllForUser removes every session for the user (logout everywhere).
func (r *sessionRepo) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions for user: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteExpired removes sessions whose expiry has passed.
func (r *sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (r *sessionRepo) queryByUser(ctx context.Context, query string, userID uuid.UUID) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var s model.Session
		var idStr, userIDStr string
		if err := rows.Scan(&idStr, &userIDStr, &s.RefreshTokenHash, &s.UserAgent, &s.IP, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if s.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse session id: %w", err)
		}
		if s.UserID, err = uuid.Parse(userIDStr); err != nil {
			return nil, fmt.Errorf("parse user id: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
