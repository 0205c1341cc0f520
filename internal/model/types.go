package model

import (
	"time"

	"github.com/google/uuid"
)

// User is an account identified uniquely by (CountryCode, Mobile).
type User struct {
	ID               uuid.UUID
	Name             string
	Email            *string
	CountryCode      string
	Mobile           string
	IsMobileVerified bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OtpRecord is one outstanding one-time code for a phone number. Only the
// most-recently-created unconsumed record is ever the verification target;
// older records are superseded, never reused.
type OtpRecord struct {
	ID          uuid.UUID
	CountryCode string
	Mobile      string
	CodeHash    string
	ExpiresAt   time.Time
	Attempts    int
	Consumed    bool
	CreatedAt   time.Time
}

// Session is one active refresh-token session. A user may hold many
// concurrent sessions (multi-device); each stores only the hash of its
// refresh token, never the raw token.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	RefreshTokenHash string
	UserAgent        *string
	IP               *string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}
