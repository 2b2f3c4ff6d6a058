// Package crypto implements server-side hashing and verification of login secrets.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters for the stored secret hash.
const (
	DefaultIterations = 1_000_000
	SaltLen           = 32
	HashLen           = 32
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Hasher derives stored hashes from client login secrets.
type Hasher struct {
	Iterations int
}

// NewHasher returns a Hasher with the given iteration count, or DefaultIterations if iterations <= 0.
func NewHasher(iterations int) Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return Hasher{Iterations: iterations}
}

// NewSalt returns a fresh hex-encoded salt.
func (h Hasher) NewSalt() (string, error) {
	b, err := RandBytes(SaltLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Hash returns hex PBKDF2-HMAC-SHA256(secret, salt). The salt is used as its
// hex text, which keeps hashes compatible with rows written by the original server.
func (h Hasher) Hash(secret, salt string) string {
	key := pbkdf2.Key([]byte(secret), []byte(salt), h.Iterations, HashLen, sha256.New)
	return hex.EncodeToString(key)
}

// NewHash generates a salt and hashes secret with it.
func (h Hasher) NewHash(secret string) (hash, salt string, err error) {
	salt, err = h.NewSalt()
	if err != nil {
		return "", "", err
	}
	return h.Hash(secret, salt), salt, nil
}

// Verify reports whether secret hashes to expected under salt, in constant time.
func (h Hasher) Verify(secret, salt, expected string) bool {
	got := h.Hash(secret, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
