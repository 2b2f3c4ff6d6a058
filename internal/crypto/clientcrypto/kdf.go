package clientcrypto

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// Wrapping key derivation parameters.
const (
	WrapSaltLen    = 8
	WrapIterations = 1000
)

// Login secret derivation parameters. The salt is fixed application-wide so the
// same passphrase always yields the same secret on every device.
const (
	LoginSalt              = "sample-salt"
	DefaultLoginIterations = 100_000
	LoginSecretLen         = 20 // 160 bits
)

// DeriveWrappingKey derives the 256-bit key that wraps the master key:
// PBKDF2-HMAC-SHA256(passphrase, salt, 1000).
func DeriveWrappingKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, WrapIterations, KeyLen, sha256.New)
}

// DeriveLoginSecret derives the hex secret sent to the server in place of the
// passphrase: PBKDF2-HMAC-SHA1(passphrase, salt, iterations) truncated to 160 bits.
func DeriveLoginSecret(passphrase, salt string, iterations int) string {
	if iterations <= 0 {
		iterations = DefaultLoginIterations
	}
	bits := pbkdf2.Key([]byte(passphrase), []byte(salt), iterations, LoginSecretLen, sha1.New)
	return hex.EncodeToString(bits)
}
