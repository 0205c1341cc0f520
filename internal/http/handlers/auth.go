package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eventhub/server/internal/auth"
	"github.com/eventhub/server/internal/logging"
	"github.com/eventhub/server/internal/middleware"
	"github.com/eventhub/server/internal/model"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	validate    *validator.Validate
	log         *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validate:    validator.New(),
		log:         log,
	}
}

type requestOtpRequest struct {
	CountryCode string `json:"countryCode" validate:"required"`
	Mobile      string `json:"mobile" validate:"required"`
}

type requestOtpResponse struct {
	Message   string `json:"message"`
	ExpiresIn int    `json:"expiresIn"`
}

type verifyOtpRequest struct {
	CountryCode string `json:"countryCode" validate:"required"`
	Mobile      string `json:"mobile" validate:"required"`
	Code        string `json:"code" validate:"required"`
}

type verifyOtpResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         userResponse `json:"user"`
	IsNewUser    bool         `json:"isNewUser"`
}

type userResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            *string   `json:"email"`
	CountryCode      string    `json:"countryCode"`
	Mobile           string    `json:"mobile"`
	IsMobileVerified bool      `json:"isMobileVerified"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{
		ID:               u.ID.String(),
		Name:             u.Name,
		Email:            u.Email,
		CountryCode:      u.CountryCode,
		Mobile:           u.Mobile,
		IsMobileVerified: u.IsMobileVerified,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// HandleRequestOtp handles POST /auth/request-otp
func (h *AuthHandler) HandleRequestOtp(w http.ResponseWriter, r *http.Request) {
	var req requestOtpRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	expiresIn, err := h.authService.RequestOtp(r.Context(), req.CountryCode, req.Mobile)
	if err != nil {
		h.log.Warn("request OTP failed",
			zap.String("mobile", logging.MaskPhone(req.Mobile)),
			zap.Error(err),
		)
		respondAuthError(w, err, "failed to send OTP")
		return
	}

	respondSuccess(w, http.StatusOK, requestOtpResponse{
		Message:   "OTP sent successfully",
		ExpiresIn: expiresIn,
	})
}

// HandleVerifyOtp handles POST /auth/verify-otp
func (h *AuthHandler) HandleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyOtpRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.authService.VerifyOtp(r.Context(), req.CountryCode, req.Mobile, req.Code, clientUserAgent(r), clientIP(r))
	if err != nil {
		h.log.Warn("verify OTP failed",
			zap.String("mobile", logging.MaskPhone(req.Mobile)),
			zap.Error(err),
		)
		respondAuthError(w, err, "OTP verification failed")
		return
	}

	respondSuccess(w, http.StatusOK, verifyOtpResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         toUserResponse(result.User),
		IsNewUser:    result.IsNewUser,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	accessToken, refreshToken, err := h.authService.Refresh(r.Context(), req.RefreshToken, clientUserAgent(r), clientIP(r))
	if err != nil {
		h.log.Warn("token refresh failed", zap.Error(err))
		respondAuthError(w, err, "token refresh failed")
		return
	}

	respondSuccess(w, http.StatusOK, refreshResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleLogout handles POST /auth/logout (protected). With a refresh token
// only that device's session is removed; without one, every session goes.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "not authenticated")
		return
	}

	var req logoutRequest
	if r.Body != nil {
		// Body is optional for logout-everywhere.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.authService.Logout(r.Context(), userID, req.RefreshToken); err != nil {
		h.log.Error("logout failed", zap.String("userId", userID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, codeInternal, "logout failed")
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// HandleMe handles GET /me (protected)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondError(w, http.StatusUnauthorized, codeUnauthorized, "not authenticated")
		return
	}
	respondSuccess(w, http.StatusOK, toUserResponse(*user))
}

func (h *AuthHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidInput, "invalid request body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidInput, err.Error())
		return false
	}
	return true
}

func clientUserAgent(r *http.Request) *string {
	if ua := r.UserAgent(); ua != "" {
		return &ua
	}
	return nil
}

func clientIP(r *http.Request) *string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip = strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if ip == "" {
		return nil
	}
	return &ip
}
