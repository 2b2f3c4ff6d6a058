package repository

import (
	"context"
	"time"

	"github.com/and161185/keycache/internal/model"
)

// CardRepository stores encrypted card blobs with optimistic concurrency.
// Versions are write timestamps at millisecond precision and strictly
// increase per row.
type CardRepository interface {
	// Create inserts a new active card. An existing card id yields errs.ErrAlreadyExists.
	Create(ctx context.Context, userID, cardID, blob string) (model.CardVersion, error)

	// Update replaces the blob only if the row's version equals expected.
	// A missing row, a foreign row and a stale version all yield errs.ErrVersionConflict.
	Update(ctx context.Context, userID, cardID string, expected time.Time, blob string) (model.CardVersion, error)

	// SoftDelete blanks the blob, marks the row inactive and advances its version.
	SoftDelete(ctx context.Context, userID, cardID string) (model.CardVersion, error)

	// List returns active and inactive rows with version > since, oldest first.
	List(ctx context.Context, userID string, since time.Time) ([]model.CardRow, error)

	// Get returns a single row or errs.ErrNotFound.
	Get(ctx context.Context, userID, cardID string) (*model.CardRow, error)
}
