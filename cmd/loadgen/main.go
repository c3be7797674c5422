package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/ledgercore/internal/app"
	"github.com/vanshika/ledgercore/internal/config"
	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/generator"
	"github.com/vanshika/ledgercore/internal/ledger"
	"github.com/vanshika/ledgercore/internal/logging"
)

const loadgenActor = "loadgen"

var errInvariantViolated = errors.New("ledger invariant violated")

func main() {
	defaults := generator.DefaultConfig()
	var (
		accounts    = flag.Int("accounts", defaults.NumAccounts, "number of accounts to open")
		transfers   = flag.Int("transfers", defaults.NumTransfers, "number of transfers to run")
		hotChance   = flag.Float64("hot-chance", defaults.HotAccountChance, "probability that a transfer side is one of the hot accounts")
		hotAccounts = flag.Int("hot-accounts", defaults.HotAccounts, "number of hot accounts")
		seed        = flag.Int64("seed", defaults.Seed, "random seed for deterministic generation")
		workers     = flag.Int("workers", 16, "number of concurrent transfer workers")
		workloadDir = flag.String("workload-dir", "", "read accounts.json and transfers.json from this directory instead of generating")
		writeDir    = flag.String("write-dir", "", "write the generated workload to this directory and exit")
		useConfig   = flag.Bool("use-config", false, "run against the configured backends instead of in-memory ones")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging).With("component", "loadgen")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	workload, err := loadWorkload(ctx, *workloadDir, generator.Config{
		NumAccounts:      *accounts,
		NumTransfers:     *transfers,
		InitialDeposit:   defaults.InitialDeposit,
		MaxTransfer:      defaults.MaxTransfer,
		HotAccountChance: clampProbability(*hotChance),
		HotAccounts:      *hotAccounts,
		Seed:             *seed,
	})
	if err != nil {
		logger.Error("failed to prepare workload", "error", err)
		os.Exit(1)
	}

	if *writeDir != "" {
		if err := generator.WriteWorkload(workload, *writeDir); err != nil {
			logger.Error("failed to write workload", "error", err)
			os.Exit(1)
		}
		logger.Info("workload written", "dir", *writeDir, "accounts", len(workload.Accounts), "transfers", len(workload.Transfers))
		return
	}

	if !*useConfig {
		cfg = inMemory(cfg)
		// Room for every event of the run so none is dropped.
		cfg.Events.Buffer = 3 * (len(workload.Transfers) + len(workload.Accounts))
	}
	if total := workload.TotalDeposits(); cfg.Bootstrap.InitialBalance.LessThan(total) {
		cfg.Bootstrap.InitialBalance = total
	}

	if err := run(ctx, logger, cfg, workload, *workers); err != nil {
		logger.Error("load run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, workload generator.Workload, workers int) error {
	ledgerApp, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledgerApp.Close(context.Background()); err != nil {
			logger.Warn("closing ledger backends failed", "error", err)
		}
	}()
	if _, _, err := ledgerApp.Bootstrap(ctx); err != nil {
		return err
	}

	numbers := make([]string, len(workload.Accounts))
	for i, seed := range workload.Accounts {
		acc, err := ledgerApp.Accounts.Open(ctx, seed.OwnerID, loadgenActor)
		if err != nil {
			return fmt.Errorf("open account for %s: %w", seed.OwnerID, err)
		}
		if _, err := ledgerApp.Engine.Deposit(ctx, acc.Number, seed.Deposit, loadgenActor); err != nil {
			return fmt.Errorf("fund %s: %w", acc.Number, err)
		}
		numbers[i] = acc.Number
	}
	tracked := append([]string{ledgerApp.Engine.VaultAccount()}, numbers...)

	before, err := totalBalance(ctx, ledgerApp, tracked)
	if err != nil {
		return err
	}

	reqs := make([]ledger.Request, len(workload.Transfers))
	for i, tr := range workload.Transfers {
		reqs[i] = ledger.Request{
			Sender:   numbers[tr.From],
			Receiver: numbers[tr.To],
			Amount:   tr.Amount,
			Actor:    loadgenActor,
		}
	}

	start := time.Now()
	completed, runErr := ledger.NewBatchRunner(ledgerApp.Engine, workers).Run(ctx, reqs)
	elapsed := time.Since(start)

	var batchErr *ledger.BatchError
	switch {
	case runErr == nil:
	case errors.As(runErr, &batchErr):
		logger.Info("transfers rejected",
			"insufficientFunds", batchErr.Count(domain.ErrInsufficientFunds),
			"lockTimeouts", batchErr.Count(domain.ErrLockTimeout),
			"total", len(batchErr.Errors),
		)
		if n := batchErr.Count(domain.ErrCompensationFailed); n > 0 {
			return fmt.Errorf("%w: %d transfers need manual reconciliation", errInvariantViolated, n)
		}
	default:
		return runErr
	}

	after, err := totalBalance(ctx, ledgerApp, tracked)
	if err != nil {
		return err
	}
	if !before.Equal(after) {
		return fmt.Errorf("%w: total was %s before the run and %s after", errInvariantViolated, before, after)
	}

	rate := float64(len(reqs)) / elapsed.Seconds()
	logger.Info("load run complete",
		"transfers", len(reqs),
		"completed", completed,
		"workers", workers,
		"duration", elapsed.String(),
		"perSecond", fmt.Sprintf("%.0f", rate),
		"total", after.StringFixed(domain.MinorUnitScale),
	)

	if summary, err := ledgerApp.Audit.Summary(ctx); err == nil {
		logger.Info("audit summary", "records", summary.Total)
	}
	return nil
}

// totalBalance sums the balances of numbers and fails if any is negative.
func totalBalance(ctx context.Context, ledgerApp *app.App, numbers []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, number := range numbers {
		acc, err := ledgerApp.Accounts.Get(ctx, number)
		if err != nil {
			return decimal.Zero, err
		}
		if acc.Balance.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: %s has balance %s", errInvariantViolated, number, acc.Balance)
		}
		total = total.Add(acc.Balance)
	}
	return total, nil
}

func loadWorkload(ctx context.Context, dir string, genCfg generator.Config) (generator.Workload, error) {
	if dir != "" {
		return generator.ReadWorkload(dir)
	}
	return generator.New(genCfg).Generate(ctx)
}

func inMemory(cfg config.Config) config.Config {
	cfg.Ledger.Store = config.StoreMemory
	cfg.Audit.DatabaseURL = ""
	cfg.Locks.RedisAddr = ""
	cfg.Events.WebhookURL = ""
	cfg.Events.AMQPURL = ""
	return cfg
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
