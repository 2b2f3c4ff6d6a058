// Package httpserver exposes the sync API over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/keycache/internal/session"
)

// Config holds listener and limit settings.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// RPS and Burst bound requests per client IP. RPS <= 0 disables the limit.
	RPS   float64
	Burst int

	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP before
	// any limiter runs. Leave it off unless a reverse proxy sets those headers.
	TrustProxy bool
}

// ReadyFunc reports whether backing storage can serve requests.
type ReadyFunc func(ctx context.Context) error

// Server owns the router and the listener.
type Server struct {
	cfg      Config
	log      *zap.Logger
	handler  *Handler
	sessions session.Registry
	ready    ReadyFunc
	isReady  atomic.Bool

	srv *http.Server
}

// New builds a server. ready may be nil.
func New(cfg Config, h *Handler, sessions session.Registry, ready ReadyFunc, log *zap.Logger) *Server {
	s := &Server{cfg: cfg, log: log, handler: h, sessions: sessions, ready: ready}
	s.isReady.Store(true)
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Router returns the full route table.
func (s *Server) Router() http.Handler {
	mux := chi.NewRouter()
	if s.cfg.TrustProxy {
		mux.Use(middleware.RealIP)
	}
	mux.Use(Logging(s.log), Recover(s.log))
	if s.cfg.RPS > 0 {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		mux.Use(newIPLimiter(rate.Limit(s.cfg.RPS), burst, 10*time.Minute).middleware)
	}

	mux.Get("/livez", s.handleLiveness)
	mux.Get("/readyz", s.handleReadiness)

	h := s.handler
	mux.Post("/api/register", h.Register)
	mux.Post("/api/authenticate", h.Authenticate)

	mux.Group(func(r chi.Router) {
		r.Use(AuthGate(s.sessions))
		r.Post("/api/logout", h.Logout)
		r.Post("/api/changeSecret", h.ChangeSecret)

		r.Group(func(r chi.Router) {
			r.Use(RequireOwner)
			r.Get("/api/u/{userId}/c", h.ListCards)
			r.Get("/api/u/{userId}/c/", h.ListCards)
			r.Put("/api/u/{userId}/c/{cardId}", h.CreateCard)
			r.Post("/api/u/{userId}/c/{cardId}", h.UpdateCard)
			r.Delete("/api/u/{userId}/c/{cardId}", h.DeleteCard)
			r.Get("/api/u/{userId}/c/{cardId}", h.GetCard)
		})
	})
	return mux
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"alive"}`))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// Serve accepts connections on l until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", zap.String("addr", l.Addr().String()))
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.Shutdown()
	return <-errCh
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() {
	s.isReady.Store(false)

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("graceful HTTP shutdown failed", zap.Error(err))
		return
	}
	s.log.Info("HTTP server gracefully stopped")
}
