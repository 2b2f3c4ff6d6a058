package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
	"github.com/jackc/pgx/v5"
)

const (
	nowMs = `date_trunc('milliseconds', clock_timestamp())`
	// nextVersion keeps versions strictly increasing even for two writes
	// within the same millisecond.
	nextVersion = `GREATEST(` + nowMs + `, last_update + interval '1 millisecond')`
)

// CardRepo implements CardRepository using PostgreSQL.
type CardRepo struct{ db *DB }

// NewCardRepo constructs a card repository.
func NewCardRepo(db *DB) *CardRepo { return &CardRepo{db: db} }

// Create inserts a new active card row.
func (r *CardRepo) Create(ctx context.Context, userID, cardID, blob string) (model.CardVersion, error) {
	const q = `
INSERT INTO cards (card_id, user_id, last_update, data_blob, active)
VALUES ($1, $2, ` + nowMs + `, $3, true)
RETURNING last_update`
	var ver time.Time
	err := r.db.Pool.QueryRow(ctx, q, cardID, userID, blob).Scan(&ver)
	if isUniqueViolation(err) {
		return model.CardVersion{}, errs.ErrAlreadyExists
	}
	if err != nil {
		return model.CardVersion{}, err
	}
	return model.CardVersion{ID: cardID, Version: ver.UTC()}, nil
}

// Update writes blob only when the stored version still equals expected.
// Concurrent writers holding the same expected version serialize on the row
// lock; the loser re-checks the predicate and matches nothing.
func (r *CardRepo) Update(
	ctx context.Context, userID, cardID string, expected time.Time, blob string,
) (model.CardVersion, error) {
	const q = `
UPDATE cards
SET data_blob = $4, last_update = ` + nextVersion + `
WHERE card_id = $1 AND user_id = $2 AND last_update = $3
RETURNING last_update`
	var ver time.Time
	err := r.db.Pool.QueryRow(ctx, q, cardID, userID, expected.UTC().Truncate(time.Millisecond), blob).Scan(&ver)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CardVersion{}, errs.ErrVersionConflict
		}
		return model.CardVersion{}, err
	}
	return model.CardVersion{ID: cardID, Version: ver.UTC()}, nil
}

// SoftDelete tombstones a card.
func (r *CardRepo) SoftDelete(ctx context.Context, userID, cardID string) (model.CardVersion, error) {
	const q = `
UPDATE cards
SET active = false, data_blob = '{}', last_update = ` + nextVersion + `
WHERE card_id = $1 AND user_id = $2
RETURNING last_update`
	var ver time.Time
	if err := r.db.Pool.QueryRow(ctx, q, cardID, userID).Scan(&ver); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CardVersion{}, errs.ErrNotFound
		}
		return model.CardVersion{}, err
	}
	return model.CardVersion{ID: cardID, Version: ver.UTC()}, nil
}

// List returns every row newer than since, including soft-deleted ones.
func (r *CardRepo) List(ctx context.Context, userID string, since time.Time) ([]model.CardRow, error) {
	const q = `
SELECT card_id, user_id, last_update, data_blob, active
FROM cards
WHERE user_id = $1 AND last_update > $2
ORDER BY last_update ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.CardRow, 0)
	for rows.Next() {
		var c model.CardRow
		if err = rows.Scan(&c.CardID, &c.UserID, &c.LastUpdate, &c.DataBlob, &c.Active); err != nil {
			return nil, err
		}
		c.LastUpdate = c.LastUpdate.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns a single card row.
func (r *CardRepo) Get(ctx context.Context, userID, cardID string) (*model.CardRow, error) {
	const q = `
SELECT card_id, user_id, last_update, data_blob, active
FROM cards WHERE card_id = $1 AND user_id = $2`
	var c model.CardRow
	err := r.db.Pool.QueryRow(ctx, q, cardID, userID).
		Scan(&c.CardID, &c.UserID, &c.LastUpdate, &c.DataBlob, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	c.LastUpdate = c.LastUpdate.UTC()
	return &c, nil
}
