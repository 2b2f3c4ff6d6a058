// Package syncclient is a typed client for the sync server HTTP API.
//
// Calls are one-shot: nothing is retried, and every call is bounded by both
// the caller's context and the client timeout.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/keycache/internal/convert"
	"github.com/and161185/keycache/internal/errs"
	"github.com/and161185/keycache/internal/model"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

const maxErrBody = 4 << 10

// Client talks to one sync server.
type Client struct {
	host string
	hc   *http.Client
}

// New returns a client for host (e.g. "http://localhost:8000").
// timeout <= 0 selects DefaultTimeout.
func New(host string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewWithHTTPClient(host, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient uses hc as is.
func NewWithHTTPClient(host string, hc *http.Client) *Client {
	return &Client{host: strings.TrimRight(host, "/"), hc: hc}
}

// Host returns the server base URL.
func (c *Client) Host() string { return c.host }

// StatusError is a non-2xx reply. It unwraps to the errs sentinel matching
// the status code.
type StatusError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }

func sentinelFor(op string, status int) error {
	switch status {
	case http.StatusBadRequest:
		if op == "authenticate" {
			return errs.ErrAuthentication
		}
		return errs.ErrValidation
	case http.StatusUnauthorized:
		return errs.ErrNotAuthenticated
	case http.StatusForbidden:
		return errs.ErrForbidden
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusConflict:
		return errs.ErrVersionConflict
	case http.StatusTooManyRequests:
		return errs.ErrRateLimited
	default:
		return errors.New("unexpected status")
	}
}

// Register creates a remote account.
func (c *Client) Register(
	ctx context.Context, username, secret string, wrapped model.WrappedKeyData,
) (convert.RegisterResponse, error) {
	var out convert.RegisterResponse
	err := c.do(ctx, "register", http.MethodPost, "register", "", nil,
		convert.RegisterRequest{Username: username, Secret: secret, WrappedMaster: wrapped}, &out)
	return out, err
}

// Authenticate exchanges credentials for a session token.
func (c *Client) Authenticate(ctx context.Context, username, secret string) (string, error) {
	var out convert.AuthenticateResponse
	err := c.do(ctx, "authenticate", http.MethodPost, "authenticate", "", nil,
		convert.AuthenticateRequest{Username: username, Secret: secret}, &out)
	return out.Session, err
}

// Logout revokes session.
func (c *Client) Logout(ctx context.Context, session string) error {
	return c.do(ctx, "logout", http.MethodPost, "logout", session, nil, nil, nil)
}

// ChangeSecret replaces the login secret and the wrapped master key.
func (c *Client) ChangeSecret(ctx context.Context, session, secret string, wrapped model.WrappedKeyData) error {
	return c.do(ctx, "changeSecret", http.MethodPost, "changeSecret", session, nil,
		convert.ChangeSecretRequest{Secret: secret, WrappedMaster: wrapped}, nil)
}

// CreateCard stores a new card and returns its first version.
func (c *Client) CreateCard(
	ctx context.Context, session, userID, cardID string, enc model.EncryptedCardData,
) (convert.CardVersionResponse, error) {
	var out convert.CardVersionResponse
	err := c.do(ctx, "createCard", http.MethodPut, cardRoute(userID, cardID), session, nil,
		convert.CardRequest{ID: cardID, Encrypted: enc}, &out)
	return out, err
}

// UpdateCard replaces a card when version is still current.
func (c *Client) UpdateCard(
	ctx context.Context, session, userID, cardID, version string, enc model.EncryptedCardData,
) (convert.CardVersionResponse, error) {
	var out convert.CardVersionResponse
	err := c.do(ctx, "updateCard", http.MethodPost, cardRoute(userID, cardID), session, nil,
		convert.CardRequest{ID: cardID, Version: version, Encrypted: enc}, &out)
	return out, err
}

// DeleteCard soft-deletes a card.
func (c *Client) DeleteCard(ctx context.Context, session, userID, cardID string) error {
	return c.do(ctx, "deleteCard", http.MethodDelete, cardRoute(userID, cardID), session, nil, nil, nil)
}

// GetCard returns the stored row of one card.
func (c *Client) GetCard(ctx context.Context, session, userID, cardID string) (convert.CardRowResponse, error) {
	var out convert.CardRowResponse
	err := c.do(ctx, "getCard", http.MethodGet, cardRoute(userID, cardID), session, nil, nil, &out)
	return out, err
}

// ListCards returns every card changed after since, tombstones included.
// A nil since lists from the beginning.
func (c *Client) ListCards(ctx context.Context, session, userID string, since *time.Time) ([]model.RemoteCard, error) {
	var q url.Values
	if since != nil {
		q = url.Values{"since": {model.FormatVersion(*since)}}
	}
	out := []model.RemoteCard{}
	err := c.do(ctx, "listCards", http.MethodGet, "u/"+url.PathEscape(userID)+"/c", session, q, nil, &out)
	return out, err
}

func cardRoute(userID, cardID string) string {
	return "u/" + url.PathEscape(userID) + "/c/" + url.PathEscape(cardID)
}

func (c *Client) do(ctx context.Context, op, method, route, session string, q url.Values, in, out any) error {
	u := c.host + "/api/" + route
	if session != "" {
		if q == nil {
			q = url.Values{}
		}
		q.Set("session", session)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return &StatusError{
			Op:     op,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(b)),
			Err:    sentinelFor(op, resp.StatusCode),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w: %w", op, errs.ErrNetwork, err)
	}
	return nil
}
