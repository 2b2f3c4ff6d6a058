package vault

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/keycache/internal/convert"
	cc "github.com/and161185/keycache/internal/crypto/clientcrypto"
	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
)

// Cards returns a copy of the local cards. Clear is set only while unlocked.
func (e *Engine) Cards() []model.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Card, len(e.prof.Cards))
	copy(out, e.prof.Cards)
	return out
}

// Card returns one local card.
func (e *Engine) Card(id string) (model.Card, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.find(id)
	if i < 0 {
		return model.Card{}, errs.ErrNotFound
	}
	return e.prof.Cards[i], nil
}

func (e *Engine) find(id string) int {
	for i := range e.prof.Cards {
		if e.prof.Cards[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) encrypt(clear model.CardClear) (model.EncryptedCardData, error) {
	b, err := json.Marshal(clear)
	if err != nil {
		return model.EncryptedCardData{}, err
	}
	defer cc.Zero(b)
	return cc.EncryptString(e.key, string(b))
}

func (e *Engine) decrypt(enc model.EncryptedCardData) (*model.CardClear, error) {
	s, err := cc.DecryptString(e.key, enc)
	if err != nil {
		return nil, err
	}
	var clear model.CardClear
	if err := json.Unmarshal([]byte(s), &clear); err != nil {
		return nil, fmt.Errorf("%w: card json: %v", errs.ErrDecryption, err)
	}
	return &clear, nil
}

// AddCard encrypts clear into a new card, saves it and pushes it when
// syncing. Push failures are logged, not returned.
func (e *Engine) AddCard(ctx context.Context, clear model.CardClear) (model.Card, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireKey(); err != nil {
		return model.Card{}, err
	}
	enc, err := e.encrypt(clear)
	if err != nil {
		return model.Card{}, err
	}
	id, err := newCardID()
	if err != nil {
		return model.Card{}, err
	}
	card := model.Card{
		ID:        id,
		Version:   model.FormatVersion(e.now()),
		Encrypted: &enc,
		Clear:     &clear,
	}
	e.prof.Cards = append(e.prof.Cards, card)
	if err := e.save(); err != nil {
		return model.Card{}, err
	}
	e.rebuildIndex()

	if e.syncing() {
		res, err := e.remote().CreateCard(ctx, e.session, e.prof.User.UserID, id, enc)
		if err != nil {
			e.log.Warn("push new card failed", zap.String("card_id", id), zap.Error(err))
		} else {
			card = e.adoptVersion(id, res.Version)
		}
	}
	return card, nil
}

// UpdateCard re-encrypts a card with new contents. The remote update is
// conditioned on the last version the server acknowledged, so an earlier
// failed push does not break later ones.
func (e *Engine) UpdateCard(ctx context.Context, id string, clear model.CardClear) (model.Card, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireKey(); err != nil {
		return model.Card{}, err
	}
	i := e.find(id)
	if i < 0 {
		return model.Card{}, errs.ErrNotFound
	}
	enc, err := e.encrypt(clear)
	if err != nil {
		return model.Card{}, err
	}
	e.prof.Cards[i] = model.Card{
		ID:        id,
		Version:   model.FormatVersion(e.now()),
		Encrypted: &enc,
		Clear:     &clear,
		Synced:    e.prof.Cards[i].Synced,
	}
	card := e.prof.Cards[i]
	if err := e.save(); err != nil {
		return model.Card{}, err
	}
	e.rebuildIndex()

	if e.syncing() {
		res, err := e.send(ctx, e.remote(), card)
		if err != nil {
			e.log.Warn("push card update failed",
				zap.String("card_id", id), zap.Bool("rejected", isRemoteReject(err)), zap.Error(err))
		} else {
			card = e.adoptVersion(id, res.Version)
		}
	}
	return card, nil
}

// RemoveCard deletes a card locally and remotely. Remote failures are logged.
func (e *Engine) RemoveCard(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.find(id)
	if i < 0 {
		return errs.ErrNotFound
	}
	e.prof.Cards = append(e.prof.Cards[:i], e.prof.Cards[i+1:]...)
	if err := e.save(); err != nil {
		return err
	}
	e.rebuildIndex()

	if e.syncing() {
		if err := e.remote().DeleteCard(ctx, e.session, e.prof.User.UserID, id); err != nil {
			e.log.Warn("push card delete failed", zap.String("card_id", id), zap.Error(err))
		}
	}
	return nil
}

// send stores c remotely: a create when the server never acknowledged the
// card, otherwise an update conditioned on the acknowledged version.
func (e *Engine) send(ctx context.Context, r Remote, c model.Card) (convert.CardVersionResponse, error) {
	if c.Synced == "" {
		return r.CreateCard(ctx, e.session, e.prof.User.UserID, c.ID, *c.Encrypted)
	}
	return r.UpdateCard(ctx, e.session, e.prof.User.UserID, c.ID, c.Synced, *c.Encrypted)
}

// adoptVersion records the server's version for a card as both its current
// and acknowledged version, and returns the stored card.
func (e *Engine) adoptVersion(id, version string) model.Card {
	i := e.find(id)
	if i < 0 {
		return model.Card{ID: id, Version: version, Synced: version}
	}
	e.prof.Cards[i].Version = version
	e.prof.Cards[i].Synced = version
	if err := e.save(); err != nil {
		e.log.Warn("save server version failed", zap.String("card_id", id), zap.Error(err))
	}
	return e.prof.Cards[i]
}

// decryptAll fills Clear for every card that has ciphertext. Cards that fail
// are logged and stay encrypted-only.
func (e *Engine) decryptAll(ctx context.Context) {
	cards := e.prof.Cards
	out := make([]*model.CardClear, len(cards))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(decryptWorkers)
	for i := range cards {
		if cards[i].Encrypted == nil || cards[i].Clear != nil {
			continue
		}
		g.Go(func() error {
			clear, err := e.decrypt(*cards[i].Encrypted)
			if err != nil {
				e.log.Warn("card decrypt failed", zap.String("card_id", cards[i].ID), zap.Error(err))
				return nil
			}
			out[i] = clear
			return nil
		})
	}
	_ = g.Wait()

	for i := range cards {
		if out[i] != nil {
			cards[i].Clear = out[i]
		}
	}
}
