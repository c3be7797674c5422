package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vanshika/ledgercore/internal/app"
	"github.com/vanshika/ledgercore/internal/config"
	"github.com/vanshika/ledgercore/internal/logging"
	"github.com/vanshika/ledgercore/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledgerApp, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to assemble ledger", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := ledgerApp.Close(closeCtx); err != nil {
			logger.Warn("closing ledger backends failed", "error", err)
		}
	}()

	// The in-memory store starts empty on every boot.
	if cfg.Ledger.Store == config.StoreMemory {
		if _, _, err := ledgerApp.Bootstrap(ctx); err != nil {
			logger.Error("failed to bootstrap vault", "error", err)
			os.Exit(1)
		}
	}
	if err := ledgerApp.Engine.CheckVault(ctx); err != nil {
		logger.Error("vault check failed; run the bootstrap command first", "error", err)
		os.Exit(1)
	}

	apiHandlers := server.NewAPIHandlers(logger, ledgerApp.Engine, ledgerApp.Accounts, ledgerApp.Audit)
	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           ledgerApp.Health,
		API:              apiHandlers,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped unexpectedly", "error", err)
	}

	if quarantined := ledgerApp.Alerts.Quarantined(); len(quarantined) > 0 {
		logger.Error("operations quarantined for manual reconciliation", "count", len(quarantined))
	}
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	var origins []string
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
