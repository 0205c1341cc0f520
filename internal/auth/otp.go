package auth

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const otpDigits = "0123456789"

// GenerateCode returns a numeric one-time code of the given length, built
// from crypto/rand bytes. Byte values map to digits modulo 10; 256 is not a
// multiple of 10 so digits 0-5 are marginally more likely, a deviation
// accepted for codes this short-lived.
func GenerateCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	code := make([]byte, length)
	for i, b := range buf {
		code[i] = otpDigits[int(b)%len(otpDigits)]
	}
	return string(code), nil
}

// HashCode hashes an OTP code with bcrypt. bcrypt salts internally, so two
// hashes of the same code differ.
func HashCode(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	return string(h), nil
}

// CodeMatches verifies a code against its stored bcrypt hash.
func CodeMatches(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
