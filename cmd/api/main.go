package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/config"
	"github.com/cardledger/cardledger/internal/idempotency"
	"github.com/cardledger/cardledger/internal/infra"
	"github.com/cardledger/cardledger/internal/logging"
	"github.com/cardledger/cardledger/internal/server"
	"github.com/cardledger/cardledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.MigrateOnStart {
		if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error("apply migrations", "error", err)
			os.Exit(1)
		}
	}

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PostgresOptions{AppName: cfg.AppName})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL, infra.RedisOptions{ClientName: cfg.AppName})
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	uow := store.NewPostgres(db)
	sweeper := idempotency.NewSweeper(uow, clock.System{}, cfg.Idempotency.SweepInterval, logger)
	go sweeper.Run(ctx)

	srv, err := server.New(cfg, db, cache, uow, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
