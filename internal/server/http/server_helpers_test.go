package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkgcrypto "github.com/and161185/keycache/internal/crypto"
	"github.com/and161185/keycache/internal/limiter"
	"github.com/and161185/keycache/internal/model"
	"github.com/and161185/keycache/internal/repository/memory"
	"github.com/and161185/keycache/internal/service"
	"github.com/and161185/keycache/internal/session"
)

var testWrapped = model.WrappedKeyData{Wrapped: "d3JhcHBlZA==", IV: "aXY=", Salt: "c2FsdA=="}

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	sessions *session.MemRegistry
}

func newEnv(t *testing.T, cfg Config, ready ReadyFunc) *testEnv {
	t.Helper()
	return newLimitedEnv(t, cfg, ready, nil)
}

// newLimitedEnv is newEnv with a login limiter in the auth service.
func newLimitedEnv(t *testing.T, cfg Config, ready ReadyFunc, lim limiter.Limiter) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := session.NewMemRegistry()
	auth := service.NewAuthService(memory.NewUserRepo(), reg, pkgcrypto.NewHasher(10), lim)
	cards := service.NewCardService(memory.NewCardRepo())
	s := New(cfg, NewHandler(auth, cards, log), reg, ready, log)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return &testEnv{srv: s, ts: ts, sessions: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	return e.doHeader(t, method, path, body, nil)
}

func (e *testEnv) doHeader(t *testing.T, method, path string, body any, hdr http.Header) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.ts.URL+path, rd)
	require.NoError(t, err)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

// signup registers and authenticates a user, returning (userID, token).
func (e *testEnv) signup(t *testing.T, username, secret string) (string, string) {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/api/register", map[string]any{
		"username": username, "secret": secret, "wrapped_master": testWrapped,
	})
	require.Equal(t, http.StatusOK, code, string(body))
	var reg struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal(body, &reg))

	code, body = e.do(t, http.MethodPost, "/api/authenticate", map[string]string{"username": username, "secret": secret})
	require.Equal(t, http.StatusOK, code, string(body))
	var auth struct {
		Session string `json:"session"`
	}
	require.NoError(t, json.Unmarshal(body, &auth))
	return reg.UserID, auth.Session
}
