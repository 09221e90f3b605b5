package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loyalcore/backend/internal/app"
	"github.com/loyalcore/backend/internal/config"
	"github.com/loyalcore/backend/internal/database"
	"github.com/loyalcore/backend/internal/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up")
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("Migrations failed")
	}

	rdb, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, kiosk lookups go straight to Postgres")
		rdb = nil
	}
	defer database.CloseRedis(rdb)

	a, err := app.New(pool, cfg, log.Logger, true)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}

	// Start River client (processes jobs)
	if err := a.River.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start River client")
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           newRouter(cfg, a, rdb),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}
	if err := a.River.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("River client stop")
	}
}
