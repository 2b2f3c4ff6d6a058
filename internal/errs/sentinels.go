// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across crypto/repo/service/transport layers.
var (
	// ErrAuthentication indicates a wrong passphrase (local unwrap) or a wrong
	// username/secret pair (remote login). Unknown users map here too.
	ErrAuthentication = errors.New("authentication failed")

	// ErrDecryption indicates a ciphertext/key mismatch or malformed ciphertext.
	ErrDecryption = errors.New("decryption failed")

	// ErrNotAuthenticated indicates an operation that needs a master key or a
	// session was attempted without one.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrForbidden indicates a valid session acting on another user's records.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (expected version mismatch).
	ErrVersionConflict = errors.New("version conflict")

	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("validation failed")

	// ErrNetwork indicates a transport-level failure or timeout.
	ErrNetwork = errors.New("network failure")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)
