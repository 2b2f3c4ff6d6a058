// Command keycache-server starts the KeyCache sync server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/keycache/internal/crypto"
	"github.com/and161185/keycache/internal/config"
	"github.com/and161185/keycache/internal/limiter"
	"github.com/and161185/keycache/internal/migrate"
	"github.com/and161185/keycache/internal/repository"
	"github.com/and161185/keycache/internal/repository/memory"
	"github.com/and161185/keycache/internal/repository/postgres"
	httpserver "github.com/and161185/keycache/internal/server/http"
	"github.com/and161185/keycache/internal/service"
	"github.com/and161185/keycache/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type storage struct {
	users repository.UserRepository
	cards repository.CardRepository
	lim   limiter.Limiter
	ready httpserver.ReadyFunc
	close func()
}

// main loads configuration, prepares storage and serves HTTP until SIGINT/SIGTERM.
func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer st.close()

	sessions := session.NewMemRegistry()
	defer sessions.Clear()

	authSvc := service.NewAuthService(st.users, sessions, pkgcrypto.NewHasher(cfg.HashIterations), st.lim).
		WithLogger(logger)
	cardSvc := service.NewCardService(st.cards)

	srv := httpserver.New(httpserver.Config{
		ListenAddr:      cfg.Addr,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		RPS:             cfg.RPS,
		Burst:           cfg.Burst,
		TrustProxy:      cfg.TrustProxy,
	}, httpserver.NewHandler(authSvc, cardSvc, logger), sessions, st.ready, logger)

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		st.close()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	policy := limiter.Policy{Window: cfg.LoginWindow, MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlock}

	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on exit")
		return &storage{
			users: memory.NewUserRepo(),
			cards: memory.NewCardRepo(),
			lim:   limiter.NewMemory(policy),
			close: func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return nil, err
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &storage{
		users: postgres.NewUserRepo(db),
		cards: postgres.NewCardRepo(db),
		lim:   limiter.NewPG(db.Pool, policy),
		ready: db.Ready,
		close: db.Close,
	}, nil
}
