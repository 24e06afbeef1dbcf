/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the affiliate commission engine server.

STARTUP SEQUENCE:
  1. Load configuration (viper: env AFFILIATE_*, optional -config file)
  2. Configure zerolog
  3. Open SQLite store
  4. Wire registrar, guard, calculator, tree builder, handlers
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/netweave/affiliate-engine/affiliate"
	"github.com/netweave/affiliate-engine/api"
	"github.com/netweave/affiliate-engine/commission"
	"github.com/netweave/affiliate-engine/config"
	"github.com/netweave/affiliate-engine/downline"
	"github.com/netweave/affiliate-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "optional config file path")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		log = log.Level(level)
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open database")
	}
	defer store.Close()

	guard := affiliate.NewGuard(store, log)
	registrar := affiliate.NewRegistrar(store, cfg.Commission.MaxLevels, log)
	calculator := commission.NewCalculator(store, store, store, guard, cfg.Commission.MaxLevels, log)
	builder := downline.NewBuilder(store, cfg.Downline.MaxDepth, cfg.Downline.Workers)

	handler := &api.Handler{
		Directory:     store,
		Catalog:       store,
		Ledger:        store,
		Registrar:     registrar,
		Guard:         guard,
		Calculator:    calculator,
		Builder:       builder,
		DefaultBudget: cfg.Downline.NodeBudget,
		Log:           log,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server stopped")
}
