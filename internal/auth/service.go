package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventhub/server/internal/logging"
	"github.com/eventhub/server/internal/model"
	"github.com/eventhub/server/internal/phone"
	"github.com/eventhub/server/internal/repo"
	"github.com/eventhub/server/internal/sms"
)

// consumedOtpRetention is how long consumed OTP rows are kept before cleanup.
const consumedOtpRetention = 24 * time.Hour

// Options configure the OTP lifecycle.
type Options struct {
	OtpLength      int
	OtpExpiry      time.Duration
	OtpMaxAttempts int
	ResendCooldown time.Duration
}

// VerifyResult is returned on successful OTP verification.
type VerifyResult struct {
	User         model.User
	AccessToken  string
	RefreshToken string
	IsNewUser    bool
}

// AuthService orchestrates the OTP and session/token lifecycle: phone
// normalization, OTP issuance and verification, user find-or-create, token
// issuance, rotation and logout.
type AuthService struct {
	otps     repo.OtpRepo
	sessions repo.SessionRepo
	users    repo.UserRepo
	tokens   *TokenService
	sms      sms.Dispatcher
	opts     Options
	log      *zap.Logger

	now func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(
	otps repo.OtpRepo,
	sessions repo.SessionRepo,
	users repo.UserRepo,
	tokens *TokenService,
	dispatcher sms.Dispatcher,
	opts Options,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		otps:     otps,
		sessions: sessions,
		users:    users,
		tokens:   tokens,
		sms:      dispatcher,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// RequestOtp issues a fresh OTP for the phone number and dispatches it.
// Returns the code lifetime in seconds. A prior unconsumed OTP inside the
// resend cooldown fails the call; outside the cooldown a brand-new record is
// created and supersedes the old one.
func (s *AuthService) RequestOtp(ctx context.Context, countryCode, mobile string) (int, error) {
	n := phone.Normalize(countryCode, mobile)
	if !n.Valid {
		return 0, ErrInvalidPhoneNumber
	}

	now := s.now()
	last, err := s.otps.LatestUnconsumed(ctx, n.CountryCode, n.NationalNumber)
	switch {
	case err == nil:
		elapsed := now.Sub(last.CreatedAt)
		if elapsed < s.opts.ResendCooldown {
			remainingMs := s.opts.ResendCooldown.Milliseconds() - elapsed.Milliseconds()
			return 0, &ResendCooldownError{SecondsRemaining: int((remainingMs + 999) / 1000)}
		}
	case errors.Is(err, repo.ErrNotFound):
		// first OTP for this phone
	default:
		return 0, fmt.Errorf("query recent otp: %w", err)
	}

	code, err := GenerateCode(s.opts.OtpLength)
	if err != nil {
		return 0, fmt.Errorf("generate code: %w", err)
	}
	codeHash, err := HashCode(code)
	if err != nil {
		return 0, err
	}

	if _, err := s.otps.Create(ctx, n.CountryCode, n.NationalNumber, codeHash, now.Add(s.opts.OtpExpiry)); err != nil {
		return 0, err
	}

	if err := s.sms.SendOtp(ctx, n.CountryCode, n.NationalNumber, code); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.log.Info("OTP requested",
		zap.String("countryCode", n.CountryCode),
		zap.String("mobile", logging.MaskPhone(n.NationalNumber)),
	)
	return int(s.opts.OtpExpiry.Seconds()), nil
}

// VerifyOtp validates the supplied code against the live OTP record and, on
// success, finds or creates the user and issues a token pair.
//
// Check order is fixed: record existence, then expiry, then the attempt
// ceiling, then the increment, then the comparison. The increment persists
// before the code is compared, so a failed or aborted comparison still costs
// an attempt.
func (s *AuthService) VerifyOtp(ctx context.Context, countryCode, mobile, code string, userAgent, ip *string) (*VerifyResult, error) {
	n := phone.Normalize(countryCode, mobile)
	if !n.Valid {
		return nil, ErrInvalidPhoneNumber
	}

	rec, err := s.otps.LatestUnconsumed(ctx, n.CountryCode, n.NationalNumber)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoOtpFound
		}
		return nil, fmt.Errorf("query otp: %w", err)
	}

	now := s.now()
	if now.After(rec.ExpiresAt) {
		return nil, ErrOtpExpired
	}
	if rec.Attempts >= s.opts.OtpMaxAttempts {
		return nil, ErrMaxAttemptsExceeded
	}

	attempts, err := s.otps.IncrementAttempts(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	if !CodeMatches(code, rec.CodeHash) {
		return nil, &InvalidOtpError{AttemptsRemaining: s.opts.OtpMaxAttempts - attempts}
	}

	if err := s.otps.MarkConsumed(ctx, rec.ID); err != nil {
		return nil, fmt.Errorf("consume otp: %w", err)
	}

	user, isNewUser, err := s.findOrCreateUser(ctx, n)
	if err != nil {
		return nil, err
	}

	accessToken, refreshToken, err := s.issueTokens(ctx, user.ID, userAgent, ip)
	if err != nil {
		return nil, err
	}

	s.log.Info("OTP verified",
		zap.String("userId", user.ID.String()),
		zap.Bool("isNewUser", isNewUser),
	)
	return &VerifyResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IsNewUser:    isNewUser,
	}, nil
}

// findOrCreateUser resolves the account for a verified phone number. New
// accounts get a placeholder display name from the last 4 digits; existing
// accounts get is_mobile_verified set unconditionally.
func (s *AuthService) findOrCreateUser(ctx context.Context, n phone.Normalized) (model.User, bool, error) {
	existing, err := s.users.GetByPhone(ctx, n.CountryCode, n.NationalNumber)
	if err == nil {
		user, err := s.users.MarkMobileVerified(ctx, existing.ID)
		if err != nil {
			return model.User{}, false, fmt.Errorf("mark verified: %w", err)
		}
		return user, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.User{}, false, fmt.Errorf("query user: %w", err)
	}

	name := "User " + lastDigits(n.NationalNumber, 4)
	user, err := s.users.CreateVerified(ctx, name, n.CountryCode, n.NationalNumber)
	if err != nil {
		return model.User{}, false, err
	}
	s.log.Info("new user created", zap.String("userId", user.ID.String()))
	return user, true, nil
}

// issueTokens mints an access/refresh pair and persists a session holding the
// refresh token's hash. The raw refresh token is returned to the caller and
// never stored.
func (s *AuthService) issueTokens(ctx context.Context, userID uuid.UUID, userAgent, ip *string) (string, string, error) {
	accessToken, err := s.tokens.SignAccessToken(userID)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.tokens.SignRefreshToken(userID)
	if err != nil {
		return "", "", err
	}

	refreshHash, err := HashRefreshToken(refreshToken)
	if err != nil {
		return "", "", err
	}

	expiresAt := s.now().Add(s.tokens.RefreshTTL())
	if _, err := s.sessions.Create(ctx, userID, refreshHash, userAgent, ip, expiresAt); err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// Refresh rotates a refresh token: the presented token must verify against
// the refresh signing key and hash-match one of the user's live sessions.
// The matched session is deleted before the new pair is issued, so a replayed
// token is always rejected after its first successful use.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, userAgent, ip *string) (string, string, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", "", ErrInvalidRefreshToken
	}

	sessions, err := s.sessions.ActiveByUser(ctx, claims.UserID)
	if err != nil {
		return "", "", fmt.Errorf("query sessions: %w", err)
	}

	// Only the hash is stored, so there is no index from raw token to
	// session; scan and compare.
	var matched *model.Session
	for i := range sessions {
		if RefreshTokenMatches(refreshToken, sessions[i].RefreshTokenHash) {
			matched = &sessions[i]
			break
		}
	}
	if matched == nil {
		return "", "", ErrInvalidRefreshToken
	}

	deleted, err := s.sessions.DeleteByID(ctx, matched.ID)
	if err != nil {
		return "", "", fmt.Errorf("rotate session: %w", err)
	}
	if !deleted {
		// A concurrent refresh with the same token won the rotation.
		return "", "", ErrInvalidRefreshToken
	}

	accessToken, newRefreshToken, err := s.issueTokens(ctx, claims.UserID, userAgent, ip)
	if err != nil {
		return "", "", err
	}

	s.log.Info("tokens refreshed", zap.String("userId", claims.UserID.String()))
	return accessToken, newRefreshToken, nil
}

// Logout invalidates sessions for the user. With a refresh token only the
// matching session is removed (one device); without one, all sessions go
// (logout everywhere). Best-effort: a token that matches nothing is not an
// error.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	if refreshToken == "" {
		n, err := s.sessions.DeleteAllForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		s.log.Info("all sessions logged out", zap.String("userId", userID.String()), zap.Int64("count", n))
		return nil
	}

	sessions, err := s.sessions.AllByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("query sessions: %w", err)
	}
	for _, sess := range sessions {
		if RefreshTokenMatches(refreshToken, sess.RefreshTokenHash) {
			if _, err := s.sessions.DeleteByID(ctx, sess.ID); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			s.log.Info("session logged out",
				zap.String("userId", userID.String()),
				zap.String("sessionId", sess.ID.String()),
			)
			return nil
		}
	}
	return nil
}

// CleanupExpired removes expired OTP records, consumed records past the
// retention window, and expired sessions. Idempotent; safe to run on a timer
// concurrently with request handling.
func (s *AuthService) CleanupExpired(ctx context.Context) error {
	now := s.now()

	deletedOtps, err := s.otps.DeleteExpired(ctx, now, now.Add(-consumedOtpRetention))
	if err != nil {
		return err
	}
	deletedSessions, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}

	s.log.Info("cleanup completed",
		zap.Int64("deletedOtps", deletedOtps),
		zap.Int64("deletedSessions", deletedSessions),
	)
	return nil
}

func lastDigits(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
