// Package vault is the client engine. It owns the unlocked master key, the
// session token and the profile, and keeps local cards in step with the sync
// server.
//
// State machine:
//
//	Anonymous -> Registered -> Unlocked -> Authenticated -> (Logout) -> Registered
//
// Unlocked means the master key is held but no session exists, either because
// sync is disabled or remote authentication failed.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	u "github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/keycache/internal/convert"
	cc "github.com/and161185/keycache/internal/crypto/clientcrypto"
	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
	"github.com/and161185/keycache/internal/profile"
	"github.com/and161185/keycache/internal/syncclient"
)

// State is the engine's authentication state.
type State int

const (
	Anonymous State = iota
	Registered
	Unlocked
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Registered:
		return "registered"
	case Unlocked:
		return "unlocked"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Remote is the subset of the sync API the engine uses.
type Remote interface {
	Register(ctx context.Context, username, secret string, wrapped model.WrappedKeyData) (convert.RegisterResponse, error)
	Authenticate(ctx context.Context, username, secret string) (string, error)
	Logout(ctx context.Context, session string) error
	ChangeSecret(ctx context.Context, session, secret string, wrapped model.WrappedKeyData) error
	CreateCard(ctx context.Context, session, userID, cardID string, enc model.EncryptedCardData) (convert.CardVersionResponse, error)
	UpdateCard(ctx context.Context, session, userID, cardID, version string, enc model.EncryptedCardData) (convert.CardVersionResponse, error)
	DeleteCard(ctx context.Context, session, userID, cardID string) error
	ListCards(ctx context.Context, session, userID string, since *time.Time) ([]model.RemoteCard, error)
}

// RemoteFactory builds a Remote for a sync host.
type RemoteFactory func(host string) Remote

// Option configures an Engine.
type Option func(*Engine)

// WithRemote replaces the HTTP sync client.
func WithRemote(f RemoteFactory) Option { return func(e *Engine) { e.newRemote = f } }

// WithTimeout sets the per-request timeout of the default sync client.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithLoginIterations overrides the login secret PBKDF2 iteration count.
func WithLoginIterations(n int) Option { return func(e *Engine) { e.loginIterations = n } }

// WithClock replaces time.Now for local card versions.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// decryptWorkers bounds parallel card decryption on unlock.
const decryptWorkers = 4

// Engine is safe for concurrent use; operations are serialized.
type Engine struct {
	mu sync.Mutex

	store profile.Store
	prof  *profile.Profile
	log   *zap.Logger

	newRemote       RemoteFactory
	timeout         time.Duration
	loginIterations int
	now             func() time.Time

	key     *cc.MasterKey
	session string
	index   CredentialIndex
}

// Open loads the profile from store.
func Open(store profile.Store, log *zap.Logger, opts ...Option) (*Engine, error) {
	p, err := store.Load()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:           store,
		prof:            p,
		log:             log,
		loginIterations: cc.DefaultLoginIterations,
		now:             time.Now,
		index:           CredentialIndex{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.newRemote == nil {
		timeout := e.timeout
		e.newRemote = func(host string) Remote { return syncclient.New(host, timeout) }
	}
	return e, nil
}

// State reports the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state()
}

func (e *Engine) state() State {
	switch {
	case e.key != nil && e.session != "":
		return Authenticated
	case e.key != nil:
		return Unlocked
	case e.prof.User.WrappedKey != nil:
		return Registered
	default:
		return Anonymous
	}
}

// User returns the persisted account.
func (e *Engine) User() model.UserState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prof.User
}

// Session returns the session token, empty when not authenticated.
func (e *Engine) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *Engine) remote() Remote { return e.newRemote(e.prof.Settings.SyncServerHost) }

func (e *Engine) loginSecret(passphrase string) string {
	return cc.DeriveLoginSecret(passphrase, cc.LoginSalt, e.loginIterations)
}

// syncing reports whether remote calls should follow local mutations.
func (e *Engine) syncing() bool {
	return e.prof.Settings.UseSyncServer && e.session != "" && e.prof.User.UserID != ""
}

func (e *Engine) save() error {
	if err := e.store.Save(e.prof); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Register creates a local account with a fresh master key and, when sync
// is enabled, a remote one. The vault is left Unlocked. A remote failure is
// returned after the local account has been saved.
func (e *Engine) Register(ctx context.Context, username, passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if username == "" || passphrase == "" {
		return fmt.Errorf("%w: username and passphrase are required", errs.ErrValidation)
	}
	if e.prof.User.WrappedKey != nil {
		return fmt.Errorf("%w: profile already holds an account", errs.ErrAlreadyExists)
	}

	key, err := cc.GenerateMasterKey()
	if err != nil {
		return err
	}
	wrapped, err := cc.WrapKey(passphrase, key)
	if err != nil {
		key.Destroy()
		return err
	}

	e.key = key
	e.prof.User = model.UserState{Username: username, WrappedKey: &wrapped}
	if err := e.save(); err != nil {
		return err
	}
	e.log.Info("local account created", zap.String("username", username))

	if !e.prof.Settings.UseSyncServer {
		return nil
	}
	return e.registerRemote(ctx, passphrase)
}

func (e *Engine) registerRemote(ctx context.Context, passphrase string) error {
	res, err := e.remote().Register(ctx, e.prof.User.Username, e.loginSecret(passphrase), *e.prof.User.WrappedKey)
	if err != nil {
		return fmt.Errorf("remote register: %w", err)
	}
	e.prof.User.UserID = res.UserID
	e.log.Info("remote account created", zap.String("user_id", res.UserID))
	return e.save()
}

// Login unlocks the master key, decrypts every card and, when sync is
// enabled, opens a remote session. If the remote step fails the error is
// returned and the vault stays Unlocked.
func (e *Engine) Login(ctx context.Context, passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.prof.User.WrappedKey == nil {
		return fmt.Errorf("%w: no local account", errs.ErrNotFound)
	}
	key, err := cc.UnwrapKey(passphrase, *e.prof.User.WrappedKey)
	if err != nil {
		return err
	}
	e.key.Destroy()
	e.key = key
	e.session = ""

	e.decryptAll(ctx)
	e.rebuildIndex()

	if !e.prof.Settings.UseSyncServer {
		return nil
	}
	if e.prof.User.UserID == "" {
		// Registered while sync was off.
		if err := e.registerRemote(ctx, passphrase); err != nil {
			return err
		}
	}
	tok, err := e.remote().Authenticate(ctx, e.prof.User.Username, e.loginSecret(passphrase))
	if err != nil {
		return fmt.Errorf("remote authenticate: %w", err)
	}
	e.session = tok
	return nil
}

// Logout ends the remote session (best effort), destroys the master key and
// drops decrypted card fields. The wrapped key stays in the profile.
func (e *Engine) Logout(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != "" && e.prof.Settings.UseSyncServer {
		if err := e.remote().Logout(ctx, e.session); err != nil {
			e.log.Warn("remote logout failed", zap.Error(err))
		}
	}
	e.lock()
}

func (e *Engine) lock() {
	e.key.Destroy()
	e.key = nil
	e.session = ""
	for i := range e.prof.Cards {
		e.prof.Cards[i].Clear = nil
	}
	e.index = CredentialIndex{}
}

// ChangePassphrase re-wraps the same master key under newPass. With sync
// enabled the server's secret and wrapped key are replaced first; the local
// profile only changes once that succeeded.
func (e *Engine) ChangePassphrase(ctx context.Context, oldPass, newPass string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.key == nil {
		return errs.ErrNotAuthenticated
	}
	if newPass == "" {
		return fmt.Errorf("%w: empty passphrase", errs.ErrValidation)
	}
	check, err := cc.UnwrapKey(oldPass, *e.prof.User.WrappedKey)
	if err != nil {
		return err
	}
	check.Destroy()

	wrapped, err := cc.WrapKey(newPass, e.key)
	if err != nil {
		return err
	}

	if e.prof.Settings.UseSyncServer && e.prof.User.UserID != "" {
		if e.session == "" {
			return fmt.Errorf("%w: sync session required", errs.ErrNotAuthenticated)
		}
		if err := e.remote().ChangeSecret(ctx, e.session, e.loginSecret(newPass), wrapped); err != nil {
			return fmt.Errorf("remote change secret: %w", err)
		}
	}
	e.prof.User.WrappedKey = &wrapped
	return e.save()
}

// Wipe forgets everything: key, session and the stored profile.
func (e *Engine) Wipe() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lock()
	e.prof = profile.Default()
	return e.store.Remove()
}

// Settings returns the sync settings.
func (e *Engine) Settings() model.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prof.Settings
}

// SetSyncServer turns remote sync on or off. Turning it off drops the session.
func (e *Engine) SetSyncServer(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prof.Settings.UseSyncServer = enabled
	if !enabled {
		e.session = ""
	}
	return e.save()
}

// SetSyncHost changes the sync server. The session belongs to the old host
// and is dropped.
func (e *Engine) SetSyncHost(host string) error {
	pu, err := url.Parse(host)
	if err != nil || (pu.Scheme != "http" && pu.Scheme != "https") || pu.Host == "" {
		return fmt.Errorf("%w: sync host must be an http(s) URL", errs.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prof.Settings.SyncServerHost != host {
		e.session = ""
	}
	e.prof.Settings.SyncServerHost = host
	return e.save()
}

func newCardID() (string, error) {
	id, err := u.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (e *Engine) requireKey() error {
	if e.key == nil {
		return errs.ErrNotAuthenticated
	}
	return nil
}

func isRemoteReject(err error) bool {
	var se *syncclient.StatusError
	return errors.As(err, &se)
}
