package vault

import "github.com/and161185/keycache/internal/model"

// Credential is an autofill entry.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialIndex maps a site URL to its credential.
type CredentialIndex map[string]Credential

// rebuildIndex indexes decrypted web cards that have both a URL and a
// username. For duplicate URLs the later card wins.
func (e *Engine) rebuildIndex() {
	idx := CredentialIndex{}
	for _, c := range e.prof.Cards {
		if c.Clear == nil || c.Clear.Type != model.CardTypeWeb || c.Clear.URL == "" || c.Clear.Username == "" {
			continue
		}
		idx[c.Clear.URL] = Credential{Username: c.Clear.Username, Password: c.Clear.Password}
	}
	e.index = idx
}

// CredentialIndex returns a copy of the index. It is empty while locked.
func (e *Engine) CredentialIndex() CredentialIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(CredentialIndex, len(e.index))
	for k, v := range e.index {
		out[k] = v
	}
	return out
}

// Lookup returns the credential for url.
func (e *Engine) Lookup(url string) (Credential, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.index[url]
	return c, ok
}
