// Package auth hashes and checks the salted passwords of broker users.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// HashPasswordWithSalt returns the hex SHA-256 of password followed by salt.
func HashPasswordWithSalt(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns n random bytes, hex encoded.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateHashAndSalt salts password with 16 random bytes and hashes it.
func GenerateHashAndSalt(password string) (hash, salt string, err error) {
	salt, err = RandomHex(16)
	if err != nil {
		return "", "", err
	}
	return HashPasswordWithSalt(password, salt), salt, nil
}

// Verify reports whether password hashes to wantHash under salt.
func Verify(password, salt, wantHash string) bool {
	got := HashPasswordWithSalt(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(wantHash)) == 1
}
