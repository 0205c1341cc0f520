package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the auth core. None of these are retried
// internally; every failure is returned to the caller, who decides whether
// to retry (e.g. request a fresh OTP after ErrOtpExpired).
var (
	ErrInvalidPhoneNumber  = errors.New("invalid phone number")
	ErrNoOtpFound          = errors.New("no OTP found, please request a new one")
	ErrOtpExpired          = errors.New("OTP has expired, please request a new one")
	ErrMaxAttemptsExceeded = errors.New("maximum verification attempts exceeded, please request a new OTP")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrDeliveryFailed      = errors.New("failed to send OTP")
)

// ResendCooldownError reports how long the caller must wait before a new OTP
// may be requested for the same phone number.
type ResendCooldownError struct {
	SecondsRemaining int
}

func (e *ResendCooldownError) Error() string {
	return fmt.Sprintf("please wait %d seconds before requesting a new OTP", e.SecondsRemaining)
}

// InvalidOtpError reports a failed code comparison and how many attempts are
// left on the record, post-increment.
type InvalidOtpError struct {
	AttemptsRemaining int
}

func (e *InvalidOtpError) Error() string {
	if e.AttemptsRemaining == 1 {
		return "invalid OTP, 1 attempt remaining"
	}
	return fmt.Sprintf("invalid OTP, %d attempts remaining", e.AttemptsRemaining)
}
