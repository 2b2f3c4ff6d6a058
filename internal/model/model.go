// Package model defines domain entities shared by the client engine, services and repositories.
package model

import (
	"time"
)

// WrappedKeyData is the master key encrypted under a passphrase-derived key.
// All fields are base64 (standard alphabet).
type WrappedKeyData struct {
	Wrapped string `json:"wrapped"`
	IV      string `json:"iv"`
	Salt    string `json:"salt"`
}

// EncryptedCardData is the only wire/disk representation of card contents.
type EncryptedCardData struct {
	IV64         string `json:"iv64"`
	CipherText64 string `json:"cipherText64"`
}

// Empty reports whether the payload carries no ciphertext (e.g. a soft-deleted row).
func (e EncryptedCardData) Empty() bool {
	return e.IV64 == "" && e.CipherText64 == ""
}

// CardClear holds decrypted card fields. It exists only in memory.
type CardClear struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Note     string `json:"note"`
	Type     string `json:"type"`
}

// CardTypeWeb marks a card whose URL/username/password feed the credential index.
const CardTypeWeb = "web"

// Card is a client-side vault record. Clear is never marshaled.
type Card struct {
	ID        string             `json:"id"`
	Version   string             `json:"version"`
	Encrypted *EncryptedCardData `json:"encrypted,omitempty"`
	Clear     *CardClear         `json:"-"`

	// Synced is the last version the server acknowledged. Empty means the
	// card was never stored remotely.
	Synced string `json:"synced,omitempty"`
}

// Persisted returns the durable projection of the card (no clear fields).
func (c Card) Persisted() Card {
	return Card{ID: c.ID, Version: c.Version, Encrypted: c.Encrypted, Synced: c.Synced}
}

// Pending reports whether the card has local changes the server has not
// acknowledged.
func (c Card) Pending() bool { return c.Synced != c.Version }

// UserState is the client's view of the account.
type UserState struct {
	Username   string          `json:"username,omitempty"`
	WrappedKey *WrappedKeyData `json:"wrappedKey,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
}

// Settings controls remote synchronization.
type Settings struct {
	SyncServerHost string `json:"syncServerHost"`
	UseSyncServer  bool   `json:"useSyncServer"`
}

// User represents an account stored on the server. The login secret is stored
// only as a salted PBKDF2 hash; the master key only in wrapped form.
type User struct {
	ID            string // UUID, assigned at registration
	Username      string // unique
	SecretHash    string // hex PBKDF2(secret, SecretSalt)
	SecretSalt    string // hex of 32 random bytes
	WrappedMaster string // JSON of WrappedKeyData
	LastUpdate    time.Time
}

// Registration is returned to the client after a successful register.
type Registration struct {
	UserID      string
	Username    string
	LastUpdated time.Time
}

// CardRow is a stored card. Active=false marks a soft delete.
type CardRow struct {
	CardID     string
	UserID     string
	LastUpdate time.Time // version
	DataBlob   string    // JSON of EncryptedCardData, "{}" once deleted
	Active     bool
}

// CardVersion reports the version after a successful write.
type CardVersion struct {
	ID      string
	Version time.Time
}

// RemoteCard is a card as listed by the server.
type RemoteCard struct {
	ID        string            `json:"id"`
	Version   string            `json:"version"`
	Encrypted EncryptedCardData `json:"encrypted"`
}
