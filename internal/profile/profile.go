// Package profile persists the client vault profile: the account, the
// encrypted cards and the sync settings. Master key, session token,
// passphrase and decrypted card fields never reach this file.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/keycache/internal/model"
)

// DefaultSyncHost is the sync server used until settings say otherwise.
const DefaultSyncHost = "http://localhost:8000"

// Profile is the durable client state.
type Profile struct {
	User     model.UserState `json:"user"`
	Cards    []model.Card    `json:"cards"`
	Settings model.Settings  `json:"settings"`
}

// Default returns an empty profile with default settings.
func Default() *Profile {
	return &Profile{
		Cards:    []model.Card{},
		Settings: model.Settings{SyncServerHost: DefaultSyncHost, UseSyncServer: false},
	}
}

// Store loads and saves a profile.
type Store interface {
	Load() (*Profile, error)
	Save(p *Profile) error
	Remove() error
	// Backup returns the stored encoding as is, or "{}" when nothing is stored.
	Backup() ([]byte, error)
}

var emptyBackup = []byte("{}")

// DefaultPath is $XDG_CONFIG_HOME/keycache/profile.json, falling back to
// ~/.config/keycache/profile.json.
func DefaultPath() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "keycache", "profile.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keycache", "profile.json")
}

// FileStore keeps the profile in a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Load reads the profile. A missing file yields Default().
func (s *FileStore) Load() (*Profile, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return decode(b)
}

// Save writes the profile atomically with mode 0600.
func (s *FileStore) Save(p *Profile) error {
	b, err := encode(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("profile dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("profile temp: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("write profile: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

// Backup reads the profile file without decoding it.
func (s *FileStore) Backup() ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return append([]byte(nil), emptyBackup...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return b, nil
}

// Remove deletes the file; a missing file is not an error.
func (s *FileStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemStore keeps the encoded profile in memory.
type MemStore struct {
	mu  sync.Mutex
	raw []byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Load() (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return Default(), nil
	}
	return decode(s.raw)
}

func (s *MemStore) Save(p *Profile) error {
	b, err := encode(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.raw = b
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Remove() error {
	s.mu.Lock()
	s.raw = nil
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Backup() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.raw == nil {
		return append([]byte(nil), emptyBackup...), nil
	}
	return append([]byte(nil), s.raw...), nil
}

// Raw returns the last saved encoding.
func (s *MemStore) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.raw...)
}

func encode(p *Profile) ([]byte, error) {
	out := *p
	out.Cards = make([]model.Card, 0, len(p.Cards))
	for _, c := range p.Cards {
		out.Cards = append(out.Cards, c.Persisted())
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return b, nil
}

func decode(b []byte) (*Profile, error) {
	p := Default()
	if err := json.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.Cards == nil {
		p.Cards = []model.Card{}
	}
	return p, nil
}
