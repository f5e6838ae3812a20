package main

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/mafia-backend/internal/auth"
	"github.com/DoyleJ11/mafia-backend/internal/config"
	"github.com/DoyleJ11/mafia-backend/internal/engine"
	"github.com/DoyleJ11/mafia-backend/internal/fanout"
	"github.com/DoyleJ11/mafia-backend/internal/httpapi"
	"github.com/DoyleJ11/mafia-backend/internal/hub"
	"github.com/DoyleJ11/mafia-backend/internal/lobby"
	"github.com/DoyleJ11/mafia-backend/internal/logging"
	"github.com/DoyleJ11/mafia-backend/internal/service"
	"github.com/DoyleJ11/mafia-backend/internal/store"
	"github.com/DoyleJ11/mafia-backend/internal/store/memory"
	"github.com/DoyleJ11/mafia-backend/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	rng, err := newRand()
	if err != nil {
		return err
	}
	provider, err := auth.NewProvider(cfg.TokenSecret, cfg.TokenTTL, nil)
	if err != nil {
		return err
	}

	eng := engine.New(cfg.Rules(), rng)
	gw := fanout.NewGateway(logger)
	// The hub outlives the signal context so shutdown can drain it in order.
	h := hub.NewHub(context.Background(), lobby.Deps{
		Engine:      eng,
		Store:       st,
		Publisher:   gw,
		Logger:      logger,
		AutoAdvance: cfg.AutoAdvance,
	})
	svc := service.New(service.Options{Engine: eng, Store: st, Hub: h, Logger: logger})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Service:        svc,
			Auth:           provider,
			Gateway:        gw,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
			SecureCookies:  !cfg.Dev,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("auto_advance", cfg.AutoAdvance))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		err = multierr.Append(err, stopHub(shutdownCtx, h))
		gw.CloseAll()
		return multierr.Append(err, st.Close())
	})
	return g.Wait()
}

func openStore(cfg config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("MAFIA_DATABASE_URL not set, games are kept in memory only")
		return memory.New(), nil
	}
	pg, err := postgres.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// newRand seeds the role shuffler from the OS entropy source.
func newRand() (*rand.Rand, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("seed rng: %w", err)
	}
	return rand.New(rand.NewChaCha8(seed)), nil
}

func stopHub(ctx context.Context, h *hub.Hub) error {
	done := make(chan struct{})
	select {
	case h.Inbox() <- hub.ShutdownHub{Done: done}:
	case <-ctx.Done():
		return fmt.Errorf("stop hub: %w", ctx.Err())
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop hub: %w", ctx.Err())
	}
}
