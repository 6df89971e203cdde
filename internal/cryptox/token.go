package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TokenEntropyBytes is the amount of randomness behind every opaque token.
const TokenEntropyBytes = 32

// NewOpaqueToken returns a hex string derived by hashing TokenEntropyBytes
// random bytes. The value carries no account information.
func NewOpaqueToken() (string, error) {
	b := make([]byte, TokenEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	sum := sha256.Sum256(b)
	Wipe(b)
	return hex.EncodeToString(sum[:]), nil
}

// DigestToken returns the SHA-256 hex digest under which a token is stored.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
