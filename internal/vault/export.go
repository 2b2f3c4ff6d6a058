package vault

import "github.com/and161185/keycache/internal/model"

// ExportedCard is the plaintext form of a card written by an export.
type ExportedCard struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Clear   model.CardClear `json:"clear"`
}

// ExportCards returns every decrypted card in plaintext. Cards that did not
// decrypt are left out.
func (e *Engine) ExportCards() ([]ExportedCard, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireKey(); err != nil {
		return nil, err
	}
	out := make([]ExportedCard, 0, len(e.prof.Cards))
	for _, c := range e.prof.Cards {
		if c.Clear == nil {
			continue
		}
		out = append(out, ExportedCard{ID: c.ID, Version: c.Version, Clear: *c.Clear})
	}
	return out, nil
}

// Backup returns the persisted profile exactly as stored. It holds only
// ciphertext and the wrapped key, so no unlock is needed.
func (e *Engine) Backup() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Backup()
}
