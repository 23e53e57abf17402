package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SecretLength is the number of random bytes in refresh and reset secrets (256 bits)
const SecretLength = 32

// GenerateSecret returns a URL-safe random secret suitable for refresh and reset tokens
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Digest is the deterministic SHA-256 fingerprint of a secret, used for indexed lookup.
// It is never the only check: the bcrypt hash is verified after the lookup.
func Digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
