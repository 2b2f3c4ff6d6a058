// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/keycache/internal/model"
)

// UserRepository provides access to accounts and their credential hashes.
type UserRepository interface {
	// Create inserts a new user and sets u.LastUpdate. A taken username
	// yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// UpdateSecret replaces the secret hash, salt and wrapped master key together.
	UpdateSecret(ctx context.Context, id, hash, salt, wrappedMaster string) error
}
