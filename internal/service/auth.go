// Package service contains application services for accounts and cards.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pkgcrypto "github.com/and161185/keycache/internal/crypto"
	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/limiter"
	"github.com/and161185/keycache/internal/model"
	"github.com/and161185/keycache/internal/repository"
	"github.com/and161185/keycache/internal/session"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Column limits of the users table.
const (
	MaxUsernameLen      = 64
	MaxWrappedMasterLen = 1024
)

// AuthService defines account and session operations.
type AuthService interface {
	// Register creates a user, storing only a salted hash of the login secret.
	Register(ctx context.Context, username, secret string, wrapped model.WrappedKeyData) (model.Registration, error)
	// Login verifies the secret and returns the user's session token.
	Login(ctx context.Context, username, secret, ip string) (string, error)
	// Logout revokes a session token.
	Logout(ctx context.Context, token string) error
	// ChangeSecret replaces the secret hash and the wrapped master key together.
	ChangeSecret(ctx context.Context, userID, secret string, wrapped model.WrappedKeyData) error
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	sessions session.Registry
	hasher   pkgcrypto.Hasher
	lim      limiter.Limiter
	log      *zap.Logger

	dummySalt string
	dummyHash string
}

// NewAuthService constructs AuthService. lim may be nil to disable login throttling.
func NewAuthService(
	users repository.UserRepository, sessions session.Registry, hasher pkgcrypto.Hasher, lim limiter.Limiter,
) *AuthServiceImpl {
	s := &AuthServiceImpl{users: users, sessions: sessions, hasher: hasher, lim: lim, log: zap.NewNop()}
	// Unknown users are checked against this pair so both failure paths cost one hash.
	s.dummySalt = "0000000000000000000000000000000000000000000000000000000000000000"
	s.dummyHash = s.dummySalt
	return s
}

// WithLogger sets the logger used for limiter store failures.
func (s *AuthServiceImpl) WithLogger(l *zap.Logger) *AuthServiceImpl {
	if l != nil {
		s.log = l
	}
	return s
}

func validWrapped(w model.WrappedKeyData) bool {
	return w.Wrapped != "" && w.IV != "" && w.Salt != ""
}

// encodeWrapped serializes the wrapped key for the wrapped_master column.
func encodeWrapped(w model.WrappedKeyData) (string, error) {
	wm, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	if len(wm) > MaxWrappedMasterLen {
		return "", fmt.Errorf("%w: wrapped_master longer than %d", errs.ErrValidation, MaxWrappedMasterLen)
	}
	return string(wm), nil
}

// Register creates a new user with a fresh id and salt.
func (s *AuthServiceImpl) Register(
	ctx context.Context, username, secret string, wrapped model.WrappedKeyData,
) (model.Registration, error) {
	if username == "" || len(username) > MaxUsernameLen || secret == "" || !validWrapped(wrapped) {
		return model.Registration{}, fmt.Errorf("%w: username/secret/wrapped_master", errs.ErrValidation)
	}
	wm, err := encodeWrapped(wrapped)
	if err != nil {
		return model.Registration{}, err
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.Registration{}, err
	}
	hash, salt, err := s.hasher.NewHash(secret)
	if err != nil {
		return model.Registration{}, err
	}

	u := &model.User{
		ID:            uid.String(),
		Username:      username,
		SecretHash:    hash,
		SecretSalt:    salt,
		WrappedMaster: wm,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return model.Registration{}, fmt.Errorf("create user: %w", err)
	}
	return model.Registration{UserID: u.ID, Username: u.Username, LastUpdated: u.LastUpdate}, nil
}

// Login authenticates with rate limiting by (username, ip). An unknown user
// and a wrong secret produce the same error.
func (s *AuthServiceImpl) Login(ctx context.Context, username, secret, ip string) (string, error) {
	ipHash := limiter.HashIP(ip)

	if s.lim != nil {
		allowed, _, err := s.lim.Allow(ctx, username, ipHash)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", errs.ErrRateLimited
		}
	}

	u, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if s.hasher.Verify(secret, u.SecretSalt, u.SecretHash) {
			return s.loginOK(ctx, username, ipHash, u.ID)
		}
	case errors.Is(err, errs.ErrNotFound):
		_ = s.hasher.Verify(secret, s.dummySalt, s.dummyHash)
	default:
		return "", fmt.Errorf("load user: %w", err)
	}

	if s.lim != nil {
		blocked, _, ferr := s.lim.Failure(ctx, username, ipHash)
		if ferr != nil {
			s.log.Warn("record login failure", zap.String("username", username), zap.Error(ferr))
		}
		if ferr == nil && blocked {
			return "", errs.ErrRateLimited
		}
	}
	return "", errs.ErrAuthentication
}

func (s *AuthServiceImpl) loginOK(ctx context.Context, username string, ipHash []byte, userID string) (string, error) {
	if s.lim != nil {
		if err := s.lim.Success(ctx, username, ipHash); err != nil {
			s.log.Warn("reset login limiter", zap.String("username", username), zap.Error(err))
		}
	}
	tok, err := s.sessions.Issue(userID)
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return tok, nil
}

// Logout revokes the token; an unknown token yields errs.ErrForbidden.
func (s *AuthServiceImpl) Logout(_ context.Context, token string) error {
	if !s.sessions.Revoke(token) {
		return errs.ErrForbidden
	}
	return nil
}

// ChangeSecret re-hashes the new secret under a new salt.
func (s *AuthServiceImpl) ChangeSecret(
	ctx context.Context, userID, secret string, wrapped model.WrappedKeyData,
) error {
	if userID == "" || secret == "" || !validWrapped(wrapped) {
		return fmt.Errorf("%w: secret/wrapped_master", errs.ErrValidation)
	}
	wm, err := encodeWrapped(wrapped)
	if err != nil {
		return err
	}
	hash, salt, err := s.hasher.NewHash(secret)
	if err != nil {
		return err
	}
	if err := s.users.UpdateSecret(ctx, userID, hash, salt, wm); err != nil {
		return fmt.Errorf("update secret: %w", err)
	}
	return nil
}
