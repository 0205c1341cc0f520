package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the "type" claim. Each type is signed with its own
// secret so a compromise of one key cannot forge tokens of the other type.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims are the JWT claims for both access and refresh tokens
type Claims struct {
	UserID    uuid.UUID `json:"userId"`
	TokenType string    `json:"type"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies access/refresh token pairs
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenService creates a token service with distinct per-type signing keys
func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// RefreshTTL reports the refresh-token lifetime, which is also the session lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// SignAccessToken mints a short-lived access token for the user
func (s *TokenService) SignAccessToken(userID uuid.UUID) (string, error) {
	return s.sign(userID, TokenTypeAccess, s.accessSecret, s.accessTTL)
}

// SignRefreshToken mints a long-lived refresh token for the user
func (s *TokenService) SignRefreshToken(userID uuid.UUID) (string, error) {
	return s.sign(userID, TokenTypeRefresh, s.refreshSecret, s.refreshTTL)
}

func (s *TokenService) sign(userID uuid.UUID, tokenType string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			// Unique jti: two tokens minted in the same second must still
			// differ, or rotation could hand back a byte-identical token.
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// VerifyAccessToken verifies signature, expiry and type of an access token
func (s *TokenService) VerifyAccessToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.accessSecret, TokenTypeAccess)
}

// VerifyRefreshToken verifies signature, expiry and type of a refresh token
func (s *TokenService) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.refreshSecret, TokenTypeRefresh)
}

func (s *TokenService) verify(tokenString string, secret []byte, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("unexpected token type %q", claims.TokenType)
	}
	return claims, nil
}
