// Package cryptox holds the credential primitives: salted password hashing
// and verification, and random token generation.
package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params configures the argon2id key derivation.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultArgon2Params follows the OWASP baseline for argon2id.
var DefaultArgon2Params = Argon2Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 2,
	KeyLen:  32,
	SaltLen: 16,
}

// minSaltLen is the floor applied to configured salt lengths.
const minSaltLen = 16

var errMalformedDigest = errors.New("malformed digest")

// PasswordHasher produces (digest, salt) credential pairs.
//
// New digests use argon2id and are self-describing:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<base64 key>
//
// The salt is stored separately as hex. Digests written by the previous
// HMAC-SHA-256 scheme (64 hex characters, keyed with the salt string) still
// verify, and NeedsRehash reports them so callers can upgrade on login.
type PasswordHasher struct {
	params Argon2Params
}

func NewPasswordHasher(p Argon2Params) *PasswordHasher {
	if p.SaltLen < minSaltLen {
		p.SaltLen = minSaltLen
	}
	return &PasswordHasher{params: p}
}

// Hash derives a digest for plaintext under a fresh random salt.
func (h *PasswordHasher) Hash(plaintext string) (digest, salt string, err error) {
	raw := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), raw, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	digest = fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(key))

	return digest, hex.EncodeToString(raw), nil
}

// Verify reports whether plaintext matches the stored digest and salt.
// Malformed input never matches.
func (h *PasswordHasher) Verify(plaintext, digest, salt string) bool {
	if strings.HasPrefix(digest, "$argon2id$") {
		ok, err := verifyArgon2(plaintext, digest, salt)
		return err == nil && ok
	}
	return verifyLegacyHMAC(plaintext, digest, salt)
}

// NeedsRehash reports whether digest was produced by an older scheme or with
// parameters that differ from the hasher's.
func (h *PasswordHasher) NeedsRehash(digest string) bool {
	p, _, err := parseArgon2(digest)
	if err != nil {
		return true
	}
	return p.Time != h.params.Time || p.Memory != h.params.Memory ||
		p.Threads != h.params.Threads || p.KeyLen != h.params.KeyLen
}

func parseArgon2(digest string) (Argon2Params, []byte, error) {
	var p Argon2Params

	parts := strings.Split(digest, "$")
	if len(parts) != 5 || parts[1] != "argon2id" {
		return p, nil, errMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, errMalformedDigest
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, errMalformedDigest
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return p, nil, errMalformedDigest
	}
	p.KeyLen = uint32(len(key))

	return p, key, nil
}

func verifyArgon2(plaintext, digest, salt string) (bool, error) {
	p, key, err := parseArgon2(digest)
	if err != nil {
		return false, err
	}
	raw, err := hex.DecodeString(salt)
	if err != nil {
		return false, errMalformedDigest
	}

	candidate := argon2.IDKey([]byte(plaintext), raw, p.Time, p.Memory, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

// verifyLegacyHMAC checks HMAC-SHA-256(key = salt) hex digests.
func verifyLegacyHMAC(plaintext, digest, salt string) bool {
	want, err := hex.DecodeString(digest)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(plaintext))
	return hmac.Equal(want, mac.Sum(nil))
}

// LegacyHMACDigest computes a digest in the previous HMAC-SHA-256 scheme.
// It exists for importing accounts and for tests; new credentials use Hash.
func LegacyHMACDigest(plaintext, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
