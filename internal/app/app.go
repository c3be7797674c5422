// Package app assembles the ledger from configuration: stores, locks, audit
// persistence and event sinks are chosen by what is configured, and the
// in-memory implementations fill every gap.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/vanshika/ledgercore/internal/accountnumber"
	"github.com/vanshika/ledgercore/internal/accounts"
	"github.com/vanshika/ledgercore/internal/audit"
	"github.com/vanshika/ledgercore/internal/config"
	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/events"
	"github.com/vanshika/ledgercore/internal/graph"
	"github.com/vanshika/ledgercore/internal/ledger"
	"github.com/vanshika/ledgercore/internal/ops"
	"github.com/vanshika/ledgercore/internal/postgres"
	"github.com/vanshika/ledgercore/internal/redislock"
	"github.com/vanshika/ledgercore/internal/repository"
	"github.com/vanshika/ledgercore/internal/server"
)

// Store is both the account store and the transaction log.
type Store interface {
	ledger.AccountStore
	ledger.TransactionLog
}

// App holds the assembled ledger components.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    Store
	Engine   *ledger.Engine
	Accounts *ledger.Accounts
	Audit    *audit.Recorder
	Alerts   *ops.LogChannel
	Events   *events.Dispatcher
	Health   server.HealthChecks

	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Build connects every configured backend. On error, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *App, err error) {
	a = &App{
		Config: cfg,
		Logger: logger,
		Alerts: ops.NewLogChannel(logger),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	if a.Store, err = a.buildStore(ctx); err != nil {
		return a, err
	}
	auditStore, err := a.buildAuditStore(ctx)
	if err != nil {
		return a, err
	}
	locks, err := a.buildLocker(ctx)
	if err != nil {
		return a, err
	}
	sinks, err := a.buildSinks()
	if err != nil {
		return a, err
	}

	a.Events = events.NewDispatcher(sinks, a.Alerts, logger, events.DispatcherOptions{
		Buffer:  cfg.Events.Buffer,
		Workers: cfg.Events.Workers,
	})
	a.onClose("events", a.Events.Close)

	a.Audit = audit.NewRecorder(auditStore, a.Alerts, logger)
	a.Engine = ledger.NewEngine(ledger.Dependencies{
		Accounts:     a.Store,
		Transactions: a.Store,
		Auditor:      a.Audit,
		Events:       a.Events,
		Locks:        locks,
		Alerts:       a.Alerts,
		Logger:       logger,
	}, cfg.Ledger.VaultAccountNumber)

	numbers := accountnumber.New(a.Store,
		accountnumber.WithMaxAttempts(cfg.Ledger.GeneratorMaxAttempts),
		accountnumber.WithReserved(cfg.Ledger.VaultAccountNumber, domain.VaultAccountNumber),
	)
	a.Accounts = ledger.NewAccounts(a.Engine, numbers)
	a.Health = append(a.Health, server.HealthFunc(a.Engine.CheckVault))
	return a, nil
}

// Bootstrap creates the vault account when it does not exist yet.
func (a *App) Bootstrap(ctx context.Context) (domain.Account, bool, error) {
	return ledger.Bootstrap(ctx, a.Store, ledger.VaultSpec{
		Number:         a.Config.Ledger.VaultAccountNumber,
		OwnerID:        a.Config.Bootstrap.VaultOwnerID,
		InitialBalance: a.Config.Bootstrap.InitialBalance,
	})
}

// Close releases backends in reverse order of creation. The event dispatcher
// drains its queue before the connections underneath it go away.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) buildStore(ctx context.Context) (Store, error) {
	if a.Config.Ledger.Store != config.StoreGraph {
		a.Logger.Info("using in-memory account store")
		return accounts.NewMemoryStore(), nil
	}

	client, err := graph.NewNeo4jClient(ctx, graph.Options{
		URI:            a.Config.Graph.URI,
		Database:       a.Config.Graph.Database,
		Username:       a.Config.Graph.Username,
		Password:       a.Config.Graph.Password,
		MaxConnections: a.Config.Graph.MaxConnections,
		MaxRetryTime:   a.Config.Graph.MaxRetryTime,
		AcquireTimeout: a.Config.Graph.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect graph store: %w", err)
	}
	a.onClose("graph", client.Close)
	a.Health = append(a.Health, server.GraphHealthService{Client: client})

	repo := repository.New(client)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.Logger.Info("using graph account store", "uri", a.Config.Graph.URI)
	return repo, nil
}

func (a *App) buildAuditStore(ctx context.Context) (audit.Store, error) {
	if a.Config.Audit.DatabaseURL == "" {
		a.Logger.Info("using in-memory audit store")
		return audit.NewMemoryStore(), nil
	}

	pool, err := postgres.Connect(ctx, a.Config.Audit)
	if err != nil {
		return nil, err
	}
	a.onClose("audit database", func(context.Context) error {
		pool.Close()
		return nil
	})

	store := postgres.NewAuditStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.Health = append(a.Health, server.PingHealthService{Name: "audit database", DB: store})
	a.Logger.Info("using postgres audit store")
	return store, nil
}

func (a *App) buildLocker(ctx context.Context) (ledger.Locker, error) {
	if a.Config.Locks.RedisAddr == "" {
		return ledger.NewLockTable(a.Config.Ledger.LockTimeout), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Locks.RedisAddr,
		Password: a.Config.Locks.RedisPassword,
		DB:       a.Config.Locks.RedisDB,
	})
	a.onClose("redis", func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", a.Config.Locks.RedisAddr, err)
	}
	a.Health = append(a.Health, server.HealthFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))

	opts := redislock.DefaultOptions()
	opts.Timeout = a.Config.Ledger.LockTimeout
	opts.Expiry = a.Config.Locks.Expiry
	a.Logger.Info("using redis account locks", "addr", a.Config.Locks.RedisAddr)
	return redislock.New(client, opts, a.Logger), nil
}

func (a *App) buildSinks() ([]events.Sink, error) {
	sinks := []events.Sink{events.NewLogSink(a.Logger)}

	if url := a.Config.Events.WebhookURL; url != "" {
		sinks = append(sinks, events.NewWebhookSink(url, a.Config.Events.WebhookTimeout, events.DefaultBreakerSettings(), a.Logger))
	}
	if url := a.Config.Events.AMQPURL; url != "" {
		sink, err := events.DialAMQP(url, a.Config.Events.AMQPExchange)
		if err != nil {
			return nil, err
		}
		a.onClose("amqp", func(context.Context) error { return sink.Close() })
		sinks = append(sinks, sink)
	}
	return sinks, nil
}
