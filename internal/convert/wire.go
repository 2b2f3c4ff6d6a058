// Package convert maps domain values to and from the JSON wire format of the
// sync API.
package convert

import (
	"encoding/json"
	"fmt"

	model "github.com/and161185/keycache/internal/model"
)

// --- requests ---

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Username      string               `json:"username"`
	Secret        string               `json:"secret"`
	WrappedMaster model.WrappedKeyData `json:"wrapped_master"`
}

// AuthenticateRequest is the body of POST /api/authenticate.
type AuthenticateRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// ChangeSecretRequest is the body of POST /api/changeSecret.
type ChangeSecretRequest struct {
	Secret        string               `json:"secret"`
	WrappedMaster model.WrappedKeyData `json:"wrapped_master"`
}

// CardRequest is the body of card create (PUT) and update (POST).
// Version is required only for update.
type CardRequest struct {
	ID        string                  `json:"id"`
	Version   string                  `json:"version,omitempty"`
	Encrypted model.EncryptedCardData `json:"encrypted"`
}

// --- responses ---

// RegisterResponse is returned by register.
type RegisterResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	LastUpdated string `json:"last_updated"`
}

// AuthenticateResponse carries the session token.
type AuthenticateResponse struct {
	Session string `json:"session"`
}

// CardVersionResponse is returned by card create and update.
type CardVersionResponse struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// CardRowResponse is the raw stored row returned by getCard.
type CardRowResponse struct {
	CardID     string `json:"card_id"`
	UserID     string `json:"user_id"`
	LastUpdate string `json:"last_update"`
	DataBlob   string `json:"data_blob"`
	Active     bool   `json:"active"`
}

// --- blobs ---

// EncodeBlob serializes card ciphertext for storage.
func EncodeBlob(e model.EncryptedCardData) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeBlob parses a stored blob. The tombstone blob "{}" yields an empty value.
func DecodeBlob(s string) (model.EncryptedCardData, error) {
	var e model.EncryptedCardData
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return model.EncryptedCardData{}, fmt.Errorf("decode blob: %w", err)
	}
	return e, nil
}

// --- domain -> wire ---

// ToRegisterResponse converts a registration result.
func ToRegisterResponse(r model.Registration) RegisterResponse {
	return RegisterResponse{
		UserID:      r.UserID,
		Username:    r.Username,
		LastUpdated: model.FormatVersion(r.LastUpdated),
	}
}

// ToCardVersionResponse converts a write result.
func ToCardVersionResponse(v model.CardVersion) CardVersionResponse {
	return CardVersionResponse{ID: v.ID, Version: model.FormatVersion(v.Version)}
}

// ToCardRowResponse converts a stored row.
func ToCardRowResponse(r model.CardRow) CardRowResponse {
	return CardRowResponse{
		CardID:     r.CardID,
		UserID:     r.UserID,
		LastUpdate: model.FormatVersion(r.LastUpdate),
		DataBlob:   r.DataBlob,
		Active:     r.Active,
	}
}

// ToRemoteCard converts a stored row into a list entry.
func ToRemoteCard(r model.CardRow) (model.RemoteCard, error) {
	enc, err := DecodeBlob(r.DataBlob)
	if err != nil {
		return model.RemoteCard{}, fmt.Errorf("card %s: %w", r.CardID, err)
	}
	return model.RemoteCard{ID: r.CardID, Version: model.FormatVersion(r.LastUpdate), Encrypted: enc}, nil
}

// ToRemoteCards converts a slice of stored rows; the result is never nil.
func ToRemoteCards(rows []model.CardRow) ([]model.RemoteCard, error) {
	out := make([]model.RemoteCard, 0, len(rows))
	for _, r := range rows {
		c, err := ToRemoteCard(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
