package vault

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/keycache/internal/convert"
	pkgcrypto "github.com/and161185/keycache/internal/crypto"
	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
	"github.com/and161185/keycache/internal/profile"
	"github.com/and161185/keycache/internal/repository/memory"
	httpserver "github.com/and161185/keycache/internal/server/http"
	"github.com/and161185/keycache/internal/service"
	"github.com/and161185/keycache/internal/session"
	"github.com/and161185/keycache/internal/syncclient"
)

// ---- fakes ----

type fakeRemote struct {
	registerErr error
	authErr     error
	changeErr   error
	createErr   error
	updateErr   error
	listOut     []model.RemoteCard

	logouts   int
	changed   []string
	created   []string
	updatedAt []string
}

func (f *fakeRemote) Register(context.Context, string, string, model.WrappedKeyData) (convert.RegisterResponse, error) {
	if f.registerErr != nil {
		return convert.RegisterResponse{}, f.registerErr
	}
	return convert.RegisterResponse{UserID: "uid-1"}, nil
}

func (f *fakeRemote) Authenticate(context.Context, string, string) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return "tok-1", nil
}

func (f *fakeRemote) Logout(context.Context, string) error {
	f.logouts++
	return errs.ErrNetwork
}

func (f *fakeRemote) ChangeSecret(_ context.Context, _, secret string, _ model.WrappedKeyData) error {
	if f.changeErr != nil {
		return f.changeErr
	}
	f.changed = append(f.changed, secret)
	return nil
}

func (f *fakeRemote) CreateCard(_ context.Context, _, _, id string, _ model.EncryptedCardData) (convert.CardVersionResponse, error) {
	if f.createErr != nil {
		return convert.CardVersionResponse{}, f.createErr
	}
	f.created = append(f.created, id)
	return convert.CardVersionResponse{ID: id, Version: "2030-01-01T00:00:00.000Z"}, nil
}

func (f *fakeRemote) UpdateCard(_ context.Context, _, _, id, version string, _ model.EncryptedCardData) (convert.CardVersionResponse, error) {
	if f.updateErr != nil {
		return convert.CardVersionResponse{}, f.updateErr
	}
	f.updatedAt = append(f.updatedAt, version)
	return convert.CardVersionResponse{ID: id, Version: "2030-01-01T00:00:00.001Z"}, nil
}

func (f *fakeRemote) DeleteCard(context.Context, string, string, string) error { return nil }

func (f *fakeRemote) ListCards(context.Context, string, string, *time.Time) ([]model.RemoteCard, error) {
	return f.listOut, nil
}

// ---- helpers ----

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func openFake(t *testing.T, store profile.Store, f *fakeRemote) *Engine {
	t.Helper()
	e, err := Open(store, zaptest.NewLogger(t),
		WithRemote(func(string) Remote { return f }),
		WithLoginIterations(10),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	return e
}

func webCard(url, user, pass string) model.CardClear {
	return model.CardClear{Name: url, URL: url, Username: user, Password: pass, Type: model.CardTypeWeb}
}

func newSyncServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := session.NewMemRegistry()
	auth := service.NewAuthService(memory.NewUserRepo(), reg, pkgcrypto.NewHasher(10), nil)
	cards := service.NewCardService(memory.NewCardRepo())
	srv := httpserver.New(httpserver.Config{}, httpserver.NewHandler(auth, cards, log), reg, nil, log)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func openLive(t *testing.T, store profile.Store, host string) *Engine {
	t.Helper()
	e, err := Open(store, zaptest.NewLogger(t), WithLoginIterations(10), WithTimeout(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, e.SetSyncHost(host))
	require.NoError(t, e.SetSyncServer(true))
	return e
}

// ---- local-only ----

func TestEngine_LocalLifecycle(t *testing.T) {
	ctx := context.Background()
	store := profile.NewMemStore()
	e := openFake(t, store, &fakeRemote{})

	assert.Equal(t, Anonymous, e.State())
	_, err := e.AddCard(ctx, webCard("https://a", "u", "p"))
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)
	require.ErrorIs(t, e.Login(ctx, "pw"), errs.ErrNotFound)
	require.ErrorIs(t, e.Register(ctx, "", "pw"), errs.ErrValidation)

	require.NoError(t, e.Register(ctx, "alice", "pw"))
	assert.Equal(t, Unlocked, e.State())
	assert.Empty(t, e.User().UserID, "sync disabled: no remote account")
	require.ErrorIs(t, e.Register(ctx, "alice", "pw"), errs.ErrAlreadyExists)

	card, err := e.AddCard(ctx, webCard("https://mail.example", "alice", "hunter2"))
	require.NoError(t, err)
	assert.Equal(t, model.FormatVersion(fixedNow), card.Version)
	assert.NotContains(t, string(store.Raw()), "hunter2")

	idx := e.CredentialIndex()
	assert.Equal(t, Credential{Username: "alice", Password: "hunter2"}, idx["https://mail.example"])

	e.Logout(ctx)
	assert.Equal(t, Registered, e.State())
	assert.Empty(t, e.CredentialIndex())
	for _, c := range e.Cards() {
		assert.Nil(t, c.Clear)
	}

	require.ErrorIs(t, e.Login(ctx, "wrong"), errs.ErrAuthentication)
	assert.Equal(t, Registered, e.State())

	// A fresh engine on the same store proves the profile round-trips.
	e2 := openFake(t, store, &fakeRemote{})
	assert.Equal(t, Registered, e2.State())
	require.NoError(t, e2.Login(ctx, "pw"))
	assert.Equal(t, Unlocked, e2.State())
	got, err := e2.Card(card.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Clear)
	assert.Equal(t, "hunter2", got.Clear.Password)
}

func TestEngine_UpdateAndRemove(t *testing.T) {
	ctx := context.Background()
	e := openFake(t, profile.NewMemStore(), &fakeRemote{})
	require.NoError(t, e.Register(ctx, "alice", "pw"))

	c, err := e.AddCard(ctx, webCard("https://a", "u", "p1"))
	require.NoError(t, err)

	_, err = e.UpdateCard(ctx, "missing", webCard("https://a", "u", "p2"))
	require.ErrorIs(t, err, errs.ErrNotFound)

	up, err := e.UpdateCard(ctx, c.ID, webCard("https://a", "u", "p2"))
	require.NoError(t, err)
	assert.NotEqual(t, c.Encrypted.CipherText64, up.Encrypted.CipherText64)
	cred, ok := e.Lookup("https://a")
	require.True(t, ok)
	assert.Equal(t, "p2", cred.Password)

	require.NoError(t, e.RemoveCard(ctx, c.ID))
	require.ErrorIs(t, e.RemoveCard(ctx, c.ID), errs.ErrNotFound)
	assert.Empty(t, e.Cards())
	_, ok = e.Lookup("https://a")
	assert.False(t, ok)
}

func TestEngine_CredentialIndexFiltersCards(t *testing.T) {
	ctx := context.Background()
	e := openFake(t, profile.NewMemStore(), &fakeRemote{})
	require.NoError(t, e.Register(ctx, "alice", "pw"))

	_, err := e.AddCard(ctx, model.CardClear{Name: "note", Note: "x", Type: "note"})
	require.NoError(t, err)
	_, err = e.AddCard(ctx, model.CardClear{URL: "https://nouser", Type: model.CardTypeWeb})
	require.NoError(t, err)
	_, err = e.AddCard(ctx, webCard("https://ok", "bob", "pw"))
	require.NoError(t, err)

	idx := e.CredentialIndex()
	assert.Len(t, idx, 1)
	assert.Contains(t, idx, "https://ok")
}

func TestEngine_UndecryptableCardIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := profile.NewMemStore()
	e := openFake(t, store, &fakeRemote{})
	require.NoError(t, e.Register(ctx, "alice", "pw"))
	for i := 0; i < 6; i++ {
		_, err := e.AddCard(ctx, webCard("https://ok", "u", "p"))
		require.NoError(t, err)
	}
	e.Logout(ctx)

	p, err := store.Load()
	require.NoError(t, err)
	p.Cards = append(p.Cards, model.Card{
		ID:        "broken",
		Version:   model.FormatVersion(fixedNow),
		Encrypted: &model.EncryptedCardData{IV64: "AAAAAAAAAAAAAAAAAAAAAA==", CipherText64: "AAAAAAAAAAAAAAAAAAAAAA=="},
	})
	require.NoError(t, store.Save(p))

	e2 := openFake(t, store, &fakeRemote{})
	require.NoError(t, e2.Login(ctx, "pw"))
	decrypted := 0
	for _, c := range e2.Cards() {
		if c.ID == "broken" {
			assert.Nil(t, c.Clear)
			continue
		}
		require.NotNil(t, c.Clear)
		decrypted++
	}
	assert.Equal(t, 6, decrypted)
}

func TestEngine_Wipe(t *testing.T) {
	ctx := context.Background()
	store := profile.NewMemStore()
	e := openFake(t, store, &fakeRemote{})
	require.NoError(t, e.Register(ctx, "alice", "pw"))
	require.NoError(t, e.Wipe())
	assert.Equal(t, Anonymous, e.State())
	assert.Empty(t, store.Raw())
	require.NoError(t, e.Register(ctx, "bob", "pw"))
}

func TestEngine_ExportAndBackup(t *testing.T) {
	ctx := context.Background()
	store := profile.NewMemStore()
	e := openFake(t, store, &fakeRemote{})

	b, err := e.Backup()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	require.NoError(t, e.Register(ctx, "alice", "pw"))
	c, err := e.AddCard(ctx, webCard("https://a", "u", "hunter2"))
	require.NoError(t, err)

	p, err := store.Load()
	require.NoError(t, err)
	p.Cards = append(p.Cards, model.Card{
		ID:        "broken",
		Version:   model.FormatVersion(fixedNow),
		Encrypted: &model.EncryptedCardData{IV64: "AAAAAAAAAAAAAAAAAAAAAA==", CipherText64: "AAAAAAAAAAAAAAAAAAAAAA=="},
	})
	require.NoError(t, store.Save(p))
	e = openFake(t, store, &fakeRemote{})
	_, err = e.ExportCards()
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)
	require.NoError(t, e.Login(ctx, "pw"))

	out, err := e.ExportCards()
	require.NoError(t, err)
	require.Len(t, out, 1, "undecryptable card left out")
	assert.Equal(t, ExportedCard{ID: c.ID, Version: c.Version, Clear: webCard("https://a", "u", "hunter2")}, out[0])

	b, err = e.Backup()
	require.NoError(t, err)
	assert.Equal(t, store.Raw(), b)
	assert.NotContains(t, string(b), "hunter2")
	assert.Contains(t, string(b), "broken")
}

func TestEngine_SetSyncHost(t *testing.T) {
	e := openFake(t, profile.NewMemStore(), &fakeRemote{})
	require.ErrorIs(t, e.SetSyncHost("ftp://x"), errs.ErrValidation)
	require.ErrorIs(t, e.SetSyncHost("not a url"), errs.ErrValidation)
	require.NoError(t, e.SetSyncHost("https://sync.example"))
	assert.Equal(t, "https://sync.example", e.Settings().SyncServerHost)
	assert.False(t, e.Settings().UseSyncServer)
}

// ---- with a fake remote ----

func TestEngine_SyncedMutationsAdoptServerVersion(t *testing.T) {
	ctx := context.Background()
	f := &fakeRemote{}
	e := openFake(t, profile.NewMemStore(), f)
	require.NoError(t, e.SetSyncServer(true))

	require.NoError(t, e.Register(ctx, "alice", "pw"))
	assert.Equal(t, "uid-1", e.User().UserID)
	assert.Equal(t, Unlocked, e.State())

	e.Logout(ctx)
	require.NoError(t, e.Login(ctx, "pw"))
	assert.Equal(t, Authenticated, e.State())

	c, err := e.AddCard(ctx, webCard("https://a", "u", "p"))
	require.NoError(t, err)
	assert.Equal(t, "2030-01-01T00:00:00.000Z", c.Version)
	assert.Equal(t, []string{c.ID}, f.created)

	up, err := e.UpdateCard(ctx, c.ID, webCard("https://a", "u", "p2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2030-01-01T00:00:00.000Z"}, f.updatedAt, "update is conditioned on the adopted version")
	assert.Equal(t, "2030-01-01T00:00:00.001Z", up.Version)

	e.Logout(ctx)
	assert.Equal(t, 1, f.logouts, "remote logout attempted even though it fails")
	assert.Equal(t, Registered, e.State())
}

func TestEngine_PushFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	f := &fakeRemote{}
	e := openFake(t, profile.NewMemStore(), f)
	require.NoError(t, e.SetSyncServer(true))
	require.NoError(t, e.Register(ctx, "alice", "pw"))
	require.NoError(t, e.Login(ctx, "pw"))

	f.createErr = &syncclient.StatusError{Op: "createCard", Status: 400, Err: errs.ErrValidation}
	f.updateErr = errs.ErrNetwork

	c, err := e.AddCard(ctx, webCard("https://a", "u", "p"))
	require.NoError(t, err)
	assert.Equal(t, model.FormatVersion(fixedNow), c.Version, "local version kept")

	_, err = e.UpdateCard(ctx, c.ID, webCard("https://a", "u", "p2"))
	require.NoError(t, err)

	res, err := e.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Created: 0, Failed: 1}, res)
}

func TestEngine_FailedUpdatePushDoesNotStallCard(t *testing.T) {
	ctx := context.Background()
	f := &fakeRemote{}
	e := openFake(t, profile.NewMemStore(), f)
	require.NoError(t, e.SetSyncServer(true))
	require.NoError(t, e.Register(ctx, "alice", "pw"))
	require.NoError(t, e.Login(ctx, "pw"))

	c, err := e.AddCard(ctx, webCard("https://a", "u", "p1"))
	require.NoError(t, err)
	require.Equal(t, "2030-01-01T00:00:00.000Z", c.Synced)

	f.updateErr = errs.ErrNetwork
	up, err := e.UpdateCard(ctx, c.ID, webCard("https://a", "u", "p2"))
	require.NoError(t, err)
	assert.Equal(t, model.FormatVersion(fixedNow), up.Version)
	assert.Equal(t, "2030-01-01T00:00:00.000Z", up.Synced, "acknowledged version kept")

	f.updateErr = nil
	up, err = e.UpdateCard(ctx, c.ID, webCard("https://a", "u", "p3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2030-01-01T00:00:00.000Z"}, f.updatedAt, "conditioned on the server version, not the local one")
	assert.Equal(t, "2030-01-01T00:00:00.001Z", up.Version)
	assert.False(t, up.Pending())

	// A pending edit is pushed as an update.
	f.updateErr = errs.ErrNetwork
	_, err = e.UpdateCard(ctx, c.ID, webCard("https://a", "u", "p4"))
	require.NoError(t, err)
	f.updateErr = nil
	res, err := e.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Updated: 1}, res)
	assert.Equal(t, []string{"2030-01-01T00:00:00.000Z", "2030-01-01T00:00:00.001Z"}, f.updatedAt)
	assert.Equal(t, []string{c.ID}, f.created)
	got, err := e.Card(c.ID)
	require.NoError(t, err)
	assert.False(t, got.Pending())
}

func TestEngine_PullRefreshesUnchangedCards(t *testing.T) {
	ctx := context.Background()
	f := &fakeRemote{}
	e := openFake(t, profile.NewMemStore(), f)
	require.NoError(t, e.SetSyncServer(true))
	require.NoError(t, e.Register(ctx, "alice", "pw"))
	require.NoError(t, e.Login(ctx, "pw"))

	c, err := e.AddCard(ctx, webCard("https://a", "u", "p1"))
	require.NoError(t, err)
	other, err := e.AddCard(ctx, webCard("https://b", "u", "remote"))
	require.NoError(t, err)

	// The server holds newer contents for c, written by another device.
	f.listOut = []model.RemoteCard{{ID: c.ID, Version: "2030-02-01T00:00:00.000Z", Encrypted: *other.Encrypted}}
	res, err := e.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Updated: 1}, res)
	got, err := e.Card(c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Clear)
	assert.Equal(t, "remote", got.Clear.Password)
	assert.Equal(t, "2030-02-01T00:00:00.000Z", got.Synced)

	// Edited on both sides: the local edit wins and stays pending.
	f.updateErr = errs.ErrNetwork
	_, err = e.UpdateCard(ctx, c.ID, webCard("https://a", "u", "mine"))
	require.NoError(t, err)
	f.listOut[0].Version = "2030-03-01T00:00:00.000Z"
	res, err = e.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, PullResult{}, res)
	got, err = e.Card(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Clear.Password)
	assert.True(t, got.Pending())
}

func TestEngine_LoginRemoteFailureLeavesUnlocked(t *testing.T) {
	ctx := context.Background()
	f := &fakeRemote{}
	e := openFake(t, profile.NewMemStore(), f)
	require.NoError(t, e.SetSyncServer(true))
	require.NoError(t, e.Register(ctx, "alice", "pw"))
	e.Logout(ctx)

	f.authErr = errs.ErrNetwork
	err := e.Login(ctx, "pw")
	require.ErrorIs(t, err, errs.ErrNetwork)
	assert.Equal(t, Unlocked, e.State())

	_, err = e.Pull(ctx)
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)
}

func TestEngine_RegisterRemoteFailureKeepsLocalAccount(t *testing.T) {
	ctx := context.Background()
	f := &fakeRemote{registerErr: errs.ErrNetwork}
	store := profile.NewMemStore()
	e := openFake(t, store, f)
	require.NoError(t, e.SetSyncServer(true))

	require.ErrorIs(t, e.Register(ctx, "alice", "pw"), errs.ErrNetwork)
	assert.Equal(t, Unlocked, e.State())
	assert.Empty(t, e.User().UserID)

	// The next login retries the remote registration.
	f.registerErr = nil
	e.Logout(ctx)
	require.NoError(t, e.Login(ctx, "pw"))
	assert.Equal(t, "uid-1", e.User().UserID)
	assert.Equal(t, Authenticated, e.State())
}

func TestEngine_ChangePassphrase(t *testing.T) {
	ctx := context.Background()
	f := &fakeRemote{}
	e := openFake(t, profile.NewMemStore(), f)
	require.NoError(t, e.SetSyncServer(true))
	require.NoError(t, e.Register(ctx, "alice", "old"))

	// Remote account exists but there is no session yet.
	require.ErrorIs(t, e.ChangePassphrase(ctx, "old", "new"), errs.ErrNotAuthenticated)

	require.NoError(t, e.Login(ctx, "old"))
	require.ErrorIs(t, e.ChangePassphrase(ctx, "wrong", "new"), errs.ErrAuthentication)

	before := *e.User().WrappedKey
	f.changeErr = errs.ErrNetwork
	require.ErrorIs(t, e.ChangePassphrase(ctx, "old", "new"), errs.ErrNetwork)
	assert.Equal(t, before, *e.User().WrappedKey, "local key untouched on remote failure")

	f.changeErr = nil
	c, err := e.AddCard(ctx, webCard("https://a", "u", "p"))
	require.NoError(t, err)
	require.NoError(t, e.ChangePassphrase(ctx, "old", "new"))
	require.Len(t, f.changed, 1)
	assert.Len(t, f.changed[0], 40)

	e.Logout(ctx)
	require.ErrorIs(t, e.Login(ctx, "old"), errs.ErrAuthentication)
	require.NoError(t, e.Login(ctx, "new"))
	got, err := e.Card(c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Clear, "same master key still decrypts old cards")
}

func TestEngine_PullFromFakeRemote(t *testing.T) {
	ctx := context.Background()
	f := &fakeRemote{}
	e := openFake(t, profile.NewMemStore(), f)
	require.NoError(t, e.SetSyncServer(true))
	require.NoError(t, e.Register(ctx, "alice", "pw"))
	require.NoError(t, e.Login(ctx, "pw"))

	local, err := e.AddCard(ctx, webCard("https://local", "u", "p"))
	require.NoError(t, err)

	f.listOut = []model.RemoteCard{
		{ID: local.ID, Version: "2030-01-02T00:00:00.000Z"},
		{ID: "garbage", Version: "2030-01-02T00:00:00.000Z", Encrypted: model.EncryptedCardData{IV64: "AAAAAAAAAAAAAAAAAAAAAA==", CipherText64: "AAAAAAAAAAAAAAAAAAAAAA=="}},
	}
	res, err := e.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Added: 1, Removed: 1}, res)

	_, err = e.Card(local.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	g, err := e.Card("garbage")
	require.NoError(t, err)
	assert.Nil(t, g.Clear, "undecryptable card kept encrypted-only")
}

func TestEngine_PullRequiresSyncEnabled(t *testing.T) {
	ctx := context.Background()
	e := openFake(t, profile.NewMemStore(), &fakeRemote{})
	require.NoError(t, e.Register(ctx, "alice", "pw"))
	_, err := e.Pull(ctx)
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = e.Push(ctx)
	require.ErrorIs(t, err, errs.ErrValidation)
}

// ---- against the real server ----

func TestEngine_TwoDevicesThroughServer(t *testing.T) {
	ctx := context.Background()
	ts := newSyncServer(t)

	storeA := profile.NewMemStore()
	a := openLive(t, storeA, ts.URL)
	require.NoError(t, a.Register(ctx, "alice", "pw"))
	require.NotEmpty(t, a.User().UserID)
	require.NoError(t, a.Login(ctx, "pw"))
	require.Equal(t, Authenticated, a.State())

	c1, err := a.AddCard(ctx, webCard("https://one", "alice", "p1"))
	require.NoError(t, err)
	c2, err := a.AddCard(ctx, webCard("https://two", "alice", "p2"))
	require.NoError(t, err)
	_, err = a.UpdateCard(ctx, c1.ID, webCard("https://one", "alice", "p1b"))
	require.NoError(t, err)

	// Device B starts from the same account data and no cards.
	pa, err := storeA.Load()
	require.NoError(t, err)
	storeB := profile.NewMemStore()
	pb := profile.Default()
	pb.User = pa.User
	pb.Settings = pa.Settings
	require.NoError(t, storeB.Save(pb))

	b, err := Open(storeB, zaptest.NewLogger(t), WithLoginIterations(10))
	require.NoError(t, err)
	require.NoError(t, b.Login(ctx, "pw"))

	res, err := b.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Added: 2}, res)
	cred, ok := b.Lookup("https://one")
	require.True(t, ok)
	assert.Equal(t, "p1b", cred.Password, "update reached the server")

	require.NoError(t, a.RemoveCard(ctx, c2.ID))
	res, err = b.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Removed: 1}, res)
	_, ok = b.Lookup("https://two")
	assert.False(t, ok)

	// Everything B holds already exists remotely.
	push, err := b.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushResult{Failed: 1}, push)

	require.NoError(t, a.ChangePassphrase(ctx, "pw", "pw2"))
	a.Logout(ctx)
	require.NoError(t, a.Login(ctx, "pw2"))
	assert.Equal(t, Authenticated, a.State())
}

func TestEngine_EditsFlowBothWays(t *testing.T) {
	ctx := context.Background()
	ts := newSyncServer(t)

	storeA := profile.NewMemStore()
	a := openLive(t, storeA, ts.URL)
	require.NoError(t, a.Register(ctx, "alice", "pw"))
	require.NoError(t, a.Login(ctx, "pw"))
	c, err := a.AddCard(ctx, webCard("https://one", "alice", "p1"))
	require.NoError(t, err)

	pa, err := storeA.Load()
	require.NoError(t, err)
	storeB := profile.NewMemStore()
	pb := profile.Default()
	pb.User = pa.User
	pb.Settings = pa.Settings
	require.NoError(t, storeB.Save(pb))
	b, err := Open(storeB, zaptest.NewLogger(t), WithLoginIterations(10))
	require.NoError(t, err)
	require.NoError(t, b.Login(ctx, "pw"))
	res, err := b.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, PullResult{Added: 1}, res)

	_, err = a.UpdateCard(ctx, c.ID, webCard("https://one", "alice", "p2"))
	require.NoError(t, err)
	res, err = b.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Updated: 1}, res)
	cred, _ := b.Lookup("https://one")
	assert.Equal(t, "p2", cred.Password)

	up, err := b.UpdateCard(ctx, c.ID, webCard("https://one", "alice", "p3"))
	require.NoError(t, err)
	assert.False(t, up.Pending(), "server accepted the edit")
	res, err = a.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, PullResult{Updated: 1}, res)
	cred, _ = a.Lookup("https://one")
	assert.Equal(t, "p3", cred.Password)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "state(9)", State(9).String())
}
