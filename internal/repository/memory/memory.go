// Package memory contains in-process implementations of repository
// interfaces. They follow the same contract as the PostgreSQL backend and
// are used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
)

// Clock returns the current time. Tests replace it to force same-millisecond writes.
type Clock func() time.Time

// CardRepo is a mutex-guarded CardRepository.
type CardRepo struct {
	mu    sync.Mutex
	rows  map[string]*model.CardRow // card_id is globally unique
	clock Clock
}

// NewCardRepo returns an empty store.
func NewCardRepo() *CardRepo {
	return &CardRepo{rows: make(map[string]*model.CardRow), clock: time.Now}
}

// WithClock swaps the time source.
func (r *CardRepo) WithClock(c Clock) *CardRepo {
	r.clock = c
	return r
}

func (r *CardRepo) Create(_ context.Context, userID, cardID, blob string) (model.CardVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[cardID]; ok {
		return model.CardVersion{}, errs.ErrAlreadyExists
	}
	ver := model.NextVersion(r.clock(), time.Time{})
	r.rows[cardID] = &model.CardRow{
		CardID:     cardID,
		UserID:     userID,
		LastUpdate: ver,
		DataBlob:   blob,
		Active:     true,
	}
	return model.CardVersion{ID: cardID, Version: ver}, nil
}

func (r *CardRepo) Update(
	_ context.Context, userID, cardID string, expected time.Time, blob string,
) (model.CardVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[cardID]
	if !ok || row.UserID != userID || !row.LastUpdate.Equal(expected.UTC().Truncate(time.Millisecond)) {
		return model.CardVersion{}, errs.ErrVersionConflict
	}
	row.DataBlob = blob
	row.LastUpdate = model.NextVersion(r.clock(), row.LastUpdate)
	return model.CardVersion{ID: cardID, Version: row.LastUpdate}, nil
}

func (r *CardRepo) SoftDelete(_ context.Context, userID, cardID string) (model.CardVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[cardID]
	if !ok || row.UserID != userID {
		return model.CardVersion{}, errs.ErrNotFound
	}
	row.Active = false
	row.DataBlob = "{}"
	row.LastUpdate = model.NextVersion(r.clock(), row.LastUpdate)
	return model.CardVersion{ID: cardID, Version: row.LastUpdate}, nil
}

func (r *CardRepo) List(_ context.Context, userID string, since time.Time) ([]model.CardRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.CardRow, 0)
	for _, row := range r.rows {
		if row.UserID == userID && row.LastUpdate.After(since) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].CardID < out[j].CardID
		}
		return out[i].LastUpdate.Before(out[j].LastUpdate)
	})
	return out, nil
}

func (r *CardRepo) Get(_ context.Context, userID, cardID string) (*model.CardRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[cardID]
	if !ok || row.UserID != userID {
		return nil, errs.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

// UserRepo is a mutex-guarded UserRepository.
type UserRepo struct {
	mu     sync.RWMutex
	byID   map[string]*model.User
	byName map[string]string
	clock  Clock
}

// NewUserRepo returns an empty store.
func NewUserRepo() *UserRepo {
	return &UserRepo{
		byID:   make(map[string]*model.User),
		byName: make(map[string]string),
		clock:  time.Now,
	}
}

func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[u.Username]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := r.byID[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	u.LastUpdate = model.NextVersion(r.clock(), time.Time{})
	cp := *u
	r.byID[u.ID] = &cp
	r.byName[u.Username] = u.ID
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byName[username]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) UpdateSecret(_ context.Context, id, hash, salt, wrappedMaster string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.SecretHash = hash
	u.SecretSalt = salt
	u.WrappedMaster = wrappedMaster
	u.LastUpdate = model.NextVersion(r.clock(), u.LastUpdate)
	return nil
}
