package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eventhub/server/internal/auth"
)

// Error codes surfaced in the response envelope.
const (
	codeInvalidInput   = "INVALID_INPUT"
	codeResendCooldown = "OTP_RESEND_COOLDOWN"
	codeOtpExpired     = "OTP_EXPIRED"
	codeOtpInvalid     = "OTP_INVALID"
	codeOtpMaxAttempts = "OTP_MAX_ATTEMPTS"
	codeNotFound       = "NOT_FOUND"
	codeInvalidToken   = "INVALID_TOKEN"
	codeUnauthorized   = "UNAUTHORIZED"
	codeInternal       = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondSuccess writes the {"success": true, "data": ...} envelope
func respondSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// respondError writes the {"success": false, "error": {...}} envelope
func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorBody{Code: code, Message: message},
	})
}

// respondAuthError maps the auth error taxonomy to transport status codes.
func respondAuthError(w http.ResponseWriter, err error, fallback string) {
	var cooldown *auth.ResendCooldownError
	var invalidOtp *auth.InvalidOtpError

	switch {
	case errors.Is(err, auth.ErrInvalidPhoneNumber):
		respondError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.As(err, &cooldown):
		respondError(w, http.StatusTooManyRequests, codeResendCooldown, cooldown.Error())
	case errors.Is(err, auth.ErrNoOtpFound):
		respondError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, auth.ErrOtpExpired):
		respondError(w, http.StatusBadRequest, codeOtpExpired, err.Error())
	case errors.Is(err, auth.ErrMaxAttemptsExceeded):
		respondError(w, http.StatusTooManyRequests, codeOtpMaxAttempts, err.Error())
	case errors.As(err, &invalidOtp):
		respondError(w, http.StatusBadRequest, codeOtpInvalid, invalidOtp.Error())
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		respondError(w, http.StatusUnauthorized, codeInvalidToken, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, codeInternal, fallback)
	}
}
