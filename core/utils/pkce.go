package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// GeneratePKCEVerifier returns a code verifier per RFC 7636 §4.1:
// base64url without padding, derived from crypto-random bytes.
func GeneratePKCEVerifier(length int) string {
	if length < 43 {
		length = 43
	}
	if length > 128 {
		length = 128
	}
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return GenerateRandomString(length)
	}
	return base64.RawURLEncoding.EncodeToString(bytes)[:length]
}

// PKCEChallengeS256 derives the S256 code challenge from a verifier.
func PKCEChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
