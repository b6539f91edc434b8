package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/tradecore/internal/config"
	"github.com/aristath/tradecore/internal/database"
	"github.com/aristath/tradecore/internal/exchange"
	"github.com/aristath/tradecore/internal/server"
	"github.com/aristath/tradecore/internal/supervisor"
	"github.com/aristath/tradecore/internal/worker"
	"github.com/aristath/tradecore/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{
		Level:  "info",
		Pretty: true,
	})

	log.Info().Msg("Starting tradecore core engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	priceCache := exchange.NewPriceCache(1024, 500*time.Millisecond)
	adapter := exchange.NewTradernetAdapter(cfg.ExchangeBaseURL, cfg.ExchangeWSURL, nil, nil, priceCache, log)

	// registerStrategies is the one place a deployment plugs concrete
	// BaseStrategy implementations in; none ship here (spec §1 "only the
	// BaseStrategy contract" is in scope).
	registry := worker.NewRegistry()
	registerStrategies(registry)

	engine := supervisor.New(cfg, db.Conn(), adapter, registry, log)

	engineCtx, cancelEngine := context.WithCancel(context.Background())
	if err := engine.Start(engineCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start core engine")
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		DB:      db,
		Config:  cfg,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Core engine started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Core engine forced to shutdown")
	}
	cancelEngine()

	log.Info().Msg("Stopped")
}

// registerStrategies is the BaseStrategy registration point. Strategy
// implementations are an explicit out-of-scope collaborator (spec §1);
// a deployment's own module would call registry.Register here.
func registerStrategies(registry *worker.Registry) {
	_ = registry
}
