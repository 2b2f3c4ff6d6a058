package vault

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/keycache/internal/convert"
	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
)

// PullResult counts local changes made by Pull.
type PullResult struct {
	Added   int
	Updated int
	Removed int
}

// PushResult counts remote writes attempted by Push.
type PushResult struct {
	Created int
	Updated int
	Failed  int
}

func (e *Engine) requireSync() error {
	if e.key == nil {
		return errs.ErrNotAuthenticated
	}
	if !e.prof.Settings.UseSyncServer {
		return fmt.Errorf("%w: sync is disabled", errs.ErrValidation)
	}
	if !e.syncing() {
		return fmt.Errorf("%w: no sync session", errs.ErrNotAuthenticated)
	}
	return nil
}

// Pull lists the remote cards, adds the missing ones and drops tombstoned
// ones. A local card without unacknowledged edits takes newer remote
// contents. A card edited on both sides keeps the local contents.
func (e *Engine) Pull(ctx context.Context) (PullResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res PullResult
	if err := e.requireSync(); err != nil {
		return res, err
	}
	remote, err := e.remote().ListCards(ctx, e.session, e.prof.User.UserID, nil)
	if err != nil {
		return res, fmt.Errorf("list remote cards: %w", err)
	}

	changed := false
	for _, rc := range remote {
		i := e.find(rc.ID)
		if rc.Encrypted.Empty() {
			if i >= 0 {
				e.prof.Cards = append(e.prof.Cards[:i], e.prof.Cards[i+1:]...)
				res.Removed++
			}
			continue
		}
		if i < 0 {
			e.prof.Cards = append(e.prof.Cards, e.pulledCard(rc))
			res.Added++
			continue
		}

		c := &e.prof.Cards[i]
		switch {
		case c.Synced == rc.Version:
		case c.Version == rc.Version:
			// Server holds exactly our write; record the acknowledgement.
			c.Synced = rc.Version
			changed = true
		case !c.Pending():
			*c = e.pulledCard(rc)
			res.Updated++
		default:
			e.log.Warn("card changed locally and remotely, keeping local",
				zap.String("card_id", rc.ID), zap.String("remote_version", rc.Version))
		}
	}

	if changed || res.Added > 0 || res.Updated > 0 || res.Removed > 0 {
		if err := e.save(); err != nil {
			return res, err
		}
		e.rebuildIndex()
	}
	e.log.Info("pull done", zap.Int("remote", len(remote)),
		zap.Int("added", res.Added), zap.Int("updated", res.Updated), zap.Int("removed", res.Removed))
	return res, nil
}

// pulledCard builds a local card from a remote row, decrypting when possible.
func (e *Engine) pulledCard(rc model.RemoteCard) model.Card {
	enc := rc.Encrypted
	card := model.Card{ID: rc.ID, Version: rc.Version, Encrypted: &enc, Synced: rc.Version}
	clear, err := e.decrypt(enc)
	if err != nil {
		e.log.Warn("pulled card does not decrypt", zap.String("card_id", rc.ID), zap.Error(err))
		return card
	}
	card.Clear = clear
	return card
}

// Push sends every local card to the server. Cards with unacknowledged
// edits are updated against their acknowledged version; the rest are created.
// Cards the server rejects (typically because they already exist) are logged
// and counted as failed.
func (e *Engine) Push(ctx context.Context) (PushResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res PushResult
	if err := e.requireSync(); err != nil {
		return res, err
	}
	r := e.remote()
	changed := false
	for i := range e.prof.Cards {
		c := &e.prof.Cards[i]
		if c.Encrypted == nil {
			continue
		}
		updating := c.Synced != "" && c.Pending()
		var (
			v   convert.CardVersionResponse
			err error
		)
		if updating {
			v, err = e.send(ctx, r, *c)
		} else {
			v, err = r.CreateCard(ctx, e.session, e.prof.User.UserID, c.ID, *c.Encrypted)
		}
		if err != nil {
			res.Failed++
			e.log.Warn("push card failed",
				zap.String("card_id", c.ID), zap.Bool("rejected", isRemoteReject(err)), zap.Error(err))
			continue
		}
		c.Version, c.Synced = v.Version, v.Version
		if updating {
			res.Updated++
		} else {
			res.Created++
		}
		changed = true
	}
	if changed {
		if err := e.save(); err != nil {
			return res, err
		}
	}
	e.log.Info("push done", zap.Int("created", res.Created), zap.Int("updated", res.Updated), zap.Int("failed", res.Failed))
	return res, nil
}
