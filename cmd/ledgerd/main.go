// Package main is the entry point for the ledger daemon.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"arena-ledger/internal/config"
	"arena-ledger/internal/pkg/db"
	"arena-ledger/internal/pkg/lock"
	"arena-ledger/internal/pkg/metrics"
	"arena-ledger/internal/repository"
	"arena-ledger/internal/server"
	"arena-ledger/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Initialize repositories
	walletRepo := repository.NewWalletRepository(dbPool.Pool)
	ledgerRepo := repository.NewLedgerRepository(dbPool.Pool)
	challengeRepo := repository.NewChallengeRepository(dbPool.Pool)
	betRepo := repository.NewBetRepository(dbPool.Pool)
	fundingRepo := repository.NewFundingRepository(dbPool.Pool)

	// Initialize wallet lock and metrics
	walletLock := lock.NewWalletLock()
	m := metrics.New()

	// Initialize services
	walletService := service.NewWalletService(dbPool, walletRepo, ledgerRepo, walletLock, m)

	settlementService := service.NewSettlementService(
		dbPool,
		walletService,
		challengeRepo,
		betRepo,
		walletLock,
		m,
		cfg.Wager,
	)

	bonusService := service.NewBonusService(dbPool, walletService, ledgerRepo, walletLock, m, cfg.Bonus)

	adminService := service.NewAdminService(
		dbPool,
		walletService,
		bonusService,
		fundingRepo,
		walletLock,
		m,
		cfg.Currency,
	)

	// Initialize HTTP API
	handler := server.NewHandler(walletService, settlementService, bonusService, adminService)
	router := server.NewRouter(handler, dbPool)
	srv := server.New(cfg.Server.ListenAddr, router)

	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("Ledger API starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ledger API failed")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ledger API shutdown failed")
	}

	log.Info().Msg("Ledger daemon stopped gracefully")
}
