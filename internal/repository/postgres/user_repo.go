package postgres

import (
	"context"
	"errors"

	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, secret_hash, secret_salt, wrapped_master, last_update)
VALUES ($1, $2, $3, $4, $5, ` + nowMs + `)
RETURNING last_update`
	err := r.db.Pool.QueryRow(ctx, q, u.ID, u.Username, u.SecretHash, u.SecretSalt, u.WrappedMaster).
		Scan(&u.LastUpdate)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return err
	}
	u.LastUpdate = u.LastUpdate.UTC()
	return nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	const q = `
SELECT id, username, secret_hash, secret_salt, wrapped_master, last_update
FROM users WHERE id=$1`
	return r.scanOne(ctx, q, id)
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `
SELECT id, username, secret_hash, secret_salt, wrapped_master, last_update
FROM users WHERE username=$1`
	return r.scanOne(ctx, q, username)
}

func (r *UserRepo) scanOne(ctx context.Context, q string, arg any) (*model.User, error) {
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, arg).
		Scan(&u.ID, &u.Username, &u.SecretHash, &u.SecretSalt, &u.WrappedMaster, &u.LastUpdate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	u.LastUpdate = u.LastUpdate.UTC()
	return &u, nil
}

// UpdateSecret replaces credentials and the wrapped key in one statement.
func (r *UserRepo) UpdateSecret(ctx context.Context, id, hash, salt, wrappedMaster string) error {
	const q = `
UPDATE users
SET secret_hash = $2, secret_salt = $3, wrapped_master = $4, last_update = ` + nowMs + `
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, hash, salt, wrappedMaster)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
