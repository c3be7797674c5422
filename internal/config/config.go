package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP      HTTPConfig
	Logging   LoggingConfig
	Ledger    LedgerConfig
	Graph     GraphConfig
	Audit     AuditConfig
	Locks     LockConfig
	Events    EventsConfig
	Bootstrap BootstrapConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

// Store backends for accounts and the transaction log.
const (
	StoreMemory = "memory"
	StoreGraph  = "graph"
)

// LedgerConfig tunes the ledger engine.
type LedgerConfig struct {
	Store                string
	VaultAccountNumber   string
	LockTimeout          time.Duration
	GeneratorMaxAttempts int
}

// GraphConfig describes connectivity to the Neo4j account store.
type GraphConfig struct {
	URI            string
	Database       string
	Username       string
	Password       string
	MaxConnections int
	MaxRetryTime   time.Duration
	AcquireTimeout time.Duration
}

// AuditConfig selects where audit records are persisted. An empty DatabaseURL
// keeps them in memory.
type AuditConfig struct {
	DatabaseURL string
	MaxConns    int
}

// LockConfig enables Redis-backed account locks when RedisAddr is set.
type LockConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Expiry        time.Duration
}

// EventsConfig wires the event sinks for the notification gateway.
type EventsConfig struct {
	WebhookURL     string
	WebhookTimeout time.Duration
	AMQPURL        string
	AMQPExchange   string
	Buffer         int
	Workers        int
}

// BootstrapConfig describes the vault created at first start.
type BootstrapConfig struct {
	VaultOwnerID   string
	InitialBalance decimal.Decimal
}

const (
	defaultHost                 = "0.0.0.0"
	defaultPort                 = 8080
	defaultReadTimeout          = 10 * time.Second
	defaultWriteTimeout         = 15 * time.Second
	defaultIdleTimeout          = 60 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultLoggingLevel         = "info"
	defaultLoggingFormat        = "text"
	defaultVaultAccount         = "0000-0000-0000-0000"
	defaultLockTimeout          = 5 * time.Second
	defaultGeneratorMaxAttempts = 1000
	defaultGraphMaxSessions     = 10
	defaultGraphMaxRetryTime    = 15 * time.Second
	defaultGraphAcquireTimeout  = 30 * time.Second
	defaultAuditMaxConns        = 10
	defaultLockExpiry           = 10 * time.Second
	defaultWebhookTimeout       = 5 * time.Second
	defaultAMQPExchange         = "ledger.events"
	defaultEventBuffer          = 256
	defaultEventWorkers         = 2
	defaultVaultOwner           = "system-vault"
	defaultVaultBalance         = "5000000"
)

// Load reads configuration from environment variables, applying defaults.
// A .env file in the working directory is read first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Host:              valueOrDefault("SERVER_HOST", defaultHost),
			AllowedOriginsCSV: os.Getenv("SERVER_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
		Ledger: LedgerConfig{
			Store:                strings.ToLower(valueOrDefault("LEDGER_STORE", StoreMemory)),
			VaultAccountNumber:   valueOrDefault("LEDGER_VAULT_ACCOUNT", defaultVaultAccount),
			GeneratorMaxAttempts: parseIntWithDefault("LEDGER_GENERATOR_MAX_ATTEMPTS", defaultGeneratorMaxAttempts),
		},
		Graph: GraphConfig{
			URI:            os.Getenv("GRAPH_URI"),
			Database:       valueOrDefault("GRAPH_DATABASE", ""),
			Username:       os.Getenv("GRAPH_USERNAME"),
			Password:       os.Getenv("GRAPH_PASSWORD"),
			MaxConnections: parseIntWithDefault("GRAPH_MAX_CONNECTIONS", defaultGraphMaxSessions),
		},
		Audit: AuditConfig{
			DatabaseURL: os.Getenv("AUDIT_DATABASE_URL"),
			MaxConns:    parseIntWithDefault("AUDIT_MAX_CONNS", defaultAuditMaxConns),
		},
		Locks: LockConfig{
			RedisAddr:     os.Getenv("REDIS_ADDR"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       parseIntWithDefault("REDIS_DB", 0),
		},
		Events: EventsConfig{
			WebhookURL:   os.Getenv("WEBHOOK_URL"),
			AMQPURL:      os.Getenv("AMQP_URL"),
			AMQPExchange: valueOrDefault("AMQP_EXCHANGE", defaultAMQPExchange),
			Buffer:       parseIntWithDefault("EVENT_BUFFER", defaultEventBuffer),
			Workers:      parseIntWithDefault("EVENT_WORKERS", defaultEventWorkers),
		},
		Bootstrap: BootstrapConfig{
			VaultOwnerID: valueOrDefault("VAULT_OWNER_ID", defaultVaultOwner),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
		{"LEDGER_LOCK_TIMEOUT", defaultLockTimeout, &cfg.Ledger.LockTimeout},
		{"LOCK_EXPIRY", defaultLockExpiry, &cfg.Locks.Expiry},
		{"WEBHOOK_TIMEOUT", defaultWebhookTimeout, &cfg.Events.WebhookTimeout},
		{"GRAPH_MAX_RETRY_TIME", defaultGraphMaxRetryTime, &cfg.Graph.MaxRetryTime},
		{"GRAPH_ACQUIRE_TIMEOUT", defaultGraphAcquireTimeout, &cfg.Graph.AcquireTimeout},
	}
	for _, d := range durations {
		v, err := parseDurationWithDefault(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	balance, err := decimal.NewFromString(valueOrDefault("VAULT_INITIAL_BALANCE", defaultVaultBalance))
	if err != nil {
		return Config{}, fmt.Errorf("invalid VAULT_INITIAL_BALANCE: %w", err)
	}
	if balance.IsNegative() {
		return Config{}, fmt.Errorf("VAULT_INITIAL_BALANCE must not be negative")
	}
	cfg.Bootstrap.InitialBalance = balance

	switch cfg.Ledger.Store {
	case StoreMemory:
	case StoreGraph:
		if cfg.Graph.URI == "" {
			return Config{}, fmt.Errorf("LEDGER_STORE=%s requires GRAPH_URI", StoreGraph)
		}
	default:
		return Config{}, fmt.Errorf("unknown LEDGER_STORE %q", cfg.Ledger.Store)
	}

	if cfg.Ledger.LockTimeout <= 0 {
		return Config{}, fmt.Errorf("LEDGER_LOCK_TIMEOUT must be positive")
	}

	return cfg, nil
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
