package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// newCodeVerifier generates a PKCE code verifier.
func newCodeVerifier() (string, error) {
	return generateToken(48)
}

// generateToken returns a hex-encoded random token of length random bytes.
func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ComputeS256Challenge derives the S256 PKCE challenge for a code verifier.
func ComputeS256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
