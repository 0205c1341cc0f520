package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashRefreshToken hashes a raw refresh token for session storage. bcrypt
// caps its input at 72 bytes and a signed JWT is longer, so the token is
// reduced to a fixed-size SHA-256 hex digest before bcrypt.
func HashRefreshToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword(tokenDigest(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash refresh token: %w", err)
	}
	return string(h), nil
}

// RefreshTokenMatches verifies a raw refresh token against a stored hash.
func RefreshTokenMatches(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), tokenDigest(token)) == nil
}

func tokenDigest(token string) []byte {
	digest := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(digest[:]))
}
