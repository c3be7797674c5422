package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vanshika/ledgercore/internal/app"
	"github.com/vanshika/ledgercore/internal/config"
	"github.com/vanshika/ledgercore/internal/generator"
	"github.com/vanshika/ledgercore/internal/logging"
)

const bootstrapActor = "bootstrap"

func main() {
	var (
		seedDir = flag.String("seed-dir", "", "Directory containing accounts.json to open and fund after the vault exists")
		owner   = flag.String("vault-owner", "", "Owner id of the vault account (overrides VAULT_OWNER_ID)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *owner != "" {
		cfg.Bootstrap.VaultOwnerID = *owner
	}

	logger := logging.New(cfg.Logging).With("component", "bootstrap")
	if cfg.Ledger.Store == config.StoreMemory {
		logger.Warn("LEDGER_STORE is memory; the vault will not outlive this process")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ledgerApp, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to assemble ledger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := ledgerApp.Close(context.Background()); err != nil {
			logger.Warn("closing ledger backends failed", "error", err)
		}
	}()

	vault, created, err := ledgerApp.Bootstrap(ctx)
	if err != nil {
		logger.Error("vault bootstrap failed", "error", err)
		os.Exit(1)
	}
	if created {
		logger.Info("vault created", "account", vault.Number, "balance", vault.Balance.String())
	} else {
		logger.Info("vault already present", "account", vault.Number, "balance", vault.Balance.String())
	}

	if *seedDir == "" {
		return
	}
	if err := seedAccounts(ctx, logger, ledgerApp, *seedDir); err != nil {
		logger.Error("seeding accounts failed", "error", err)
		os.Exit(1)
	}
}

func seedAccounts(ctx context.Context, logger *slog.Logger, ledgerApp *app.App, dir string) error {
	seeds, err := generator.ReadAccounts(dir)
	if err != nil {
		return err
	}

	start := time.Now()
	for i, seed := range seeds {
		acc, err := ledgerApp.Accounts.Open(ctx, seed.OwnerID, bootstrapActor)
		if err != nil {
			return fmt.Errorf("open account %d for %s: %w", i, seed.OwnerID, err)
		}
		if seed.Deposit.IsPositive() {
			if _, err := ledgerApp.Engine.Deposit(ctx, acc.Number, seed.Deposit, bootstrapActor); err != nil {
				return fmt.Errorf("fund %s: %w", acc.Number, err)
			}
		}
	}
	logger.Info("seed accounts opened", "count", len(seeds), "duration", time.Since(start).String())
	return nil
}
