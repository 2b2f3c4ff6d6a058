// Package session holds the server-side mapping between opaque session tokens
// and user ids.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

// TokenLen is the number of random bytes in a session token.
const TokenLen = 16

// Registry issues and resolves session tokens. A user has at most one token.
type Registry interface {
	// Issue returns the user's current token, creating one if none exists.
	Issue(userID string) (string, error)
	// Lookup returns the user bound to token.
	Lookup(token string) (string, bool)
	// Revoke removes token and reports whether it was known.
	Revoke(token string) bool
}

// MemRegistry is an in-process Registry.
type MemRegistry struct {
	mu      sync.Mutex
	byToken map[string]string
	byUser  map[string]string
	newTok  func() (string, error)
}

// NewMemRegistry returns an empty registry.
func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		byToken: make(map[string]string),
		byUser:  make(map[string]string),
		newTok:  newToken,
	}
}

func newToken() (string, error) {
	b := make([]byte, TokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue is idempotent per user. The lookup and the insert happen under one
// lock, so concurrent callers for the same user get the same token.
func (r *MemRegistry) Issue(userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tok, ok := r.byUser[userID]; ok {
		return tok, nil
	}
	tok, err := r.newTok()
	if err != nil {
		return "", err
	}
	r.byUser[userID] = tok
	r.byToken[tok] = userID
	return tok, nil
}

func (r *MemRegistry) Lookup(token string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid, ok := r.byToken[token]
	return uid, ok
}

func (r *MemRegistry) Revoke(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid, ok := r.byToken[token]
	if !ok {
		return false
	}
	delete(r.byToken, token)
	delete(r.byUser, uid)
	return true
}

// Clear drops every session.
func (r *MemRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken = make(map[string]string)
	r.byUser = make(map[string]string)
}

// Len returns the number of live sessions.
func (r *MemRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}
