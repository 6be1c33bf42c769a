package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// RandomToken returns byteLength bytes of CSPRNG output, URL-safe encoded.
func RandomToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint returns the URL-safe SHA-256 digest of a token. Raw tokens
// are never persisted; rows are keyed by this digest instead. The same
// construction serves as the PKCE S256 challenge of a code verifier.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
