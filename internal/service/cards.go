package service

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/keycache/internal/convert"
	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
	"github.com/and161185/keycache/internal/repository"
)

// MaxCardIDLen matches the cards.card_id column.
const MaxCardIDLen = 64

// CardService defines operations over a user's encrypted cards.
type CardService interface {
	// Create stores a new card and returns its first version.
	Create(ctx context.Context, userID, cardID string, enc model.EncryptedCardData) (model.CardVersion, error)
	// Update replaces a card if version is still current.
	Update(ctx context.Context, userID, cardID, version string, enc model.EncryptedCardData) (model.CardVersion, error)
	// Delete soft-deletes a card.
	Delete(ctx context.Context, userID, cardID string) (model.CardVersion, error)
	// GetOne returns the stored row.
	GetOne(ctx context.Context, userID, cardID string) (*model.CardRow, error)
	// List returns rows newer than since, or newer than model.DefaultSince when since is nil.
	List(ctx context.Context, userID string, since *time.Time) ([]model.CardRow, error)
}

type CardServiceImpl struct {
	repo repository.CardRepository
}

// NewCardService constructs CardService.
func NewCardService(repo repository.CardRepository) *CardServiceImpl {
	return &CardServiceImpl{repo: repo}
}

func validCardID(id string) error {
	if id == "" || len(id) > MaxCardIDLen {
		return fmt.Errorf("%w: card id", errs.ErrValidation)
	}
	return nil
}

func encodePayload(enc model.EncryptedCardData) (string, error) {
	if enc.IV64 == "" || enc.CipherText64 == "" {
		return "", fmt.Errorf("%w: empty encrypted payload", errs.ErrValidation)
	}
	return convert.EncodeBlob(enc)
}

func (s *CardServiceImpl) Create(
	ctx context.Context, userID, cardID string, enc model.EncryptedCardData,
) (model.CardVersion, error) {
	if err := validCardID(cardID); err != nil {
		return model.CardVersion{}, err
	}
	blob, err := encodePayload(enc)
	if err != nil {
		return model.CardVersion{}, err
	}
	return s.repo.Create(ctx, userID, cardID, blob)
}

// Update treats an unparseable version like a stale one.
func (s *CardServiceImpl) Update(
	ctx context.Context, userID, cardID, version string, enc model.EncryptedCardData,
) (model.CardVersion, error) {
	if err := validCardID(cardID); err != nil {
		return model.CardVersion{}, err
	}
	blob, err := encodePayload(enc)
	if err != nil {
		return model.CardVersion{}, err
	}
	expected, err := model.ParseVersion(version)
	if err != nil {
		return model.CardVersion{}, fmt.Errorf("%w: %v", errs.ErrVersionConflict, err)
	}
	return s.repo.Update(ctx, userID, cardID, expected, blob)
}

func (s *CardServiceImpl) Delete(ctx context.Context, userID, cardID string) (model.CardVersion, error) {
	return s.repo.SoftDelete(ctx, userID, cardID)
}

func (s *CardServiceImpl) GetOne(ctx context.Context, userID, cardID string) (*model.CardRow, error) {
	return s.repo.Get(ctx, userID, cardID)
}

func (s *CardServiceImpl) List(ctx context.Context, userID string, since *time.Time) ([]model.CardRow, error) {
	from := model.DefaultSince
	if since != nil {
		from = since.UTC()
	}
	return s.repo.List(ctx, userID, from)
}
