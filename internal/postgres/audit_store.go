// Package postgres persists the audit trail in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vanshika/ledgercore/internal/audit"
	"github.com/vanshika/ledgercore/internal/config"
	"github.com/vanshika/ledgercore/internal/domain"
)

// DB is the subset of *pgxpool.Pool used by AuditStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.AuditConfig) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("audit database url is not set")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse audit database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create audit pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	return pool, nil
}

// AuditStore is an append-only audit.Store. It only ever issues INSERT and
// SELECT against audit_log.
type AuditStore struct {
	db DB
}

// NewAuditStore wraps db.
func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

// EnsureSchema creates audit_log and its indexes when missing.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *AuditStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Append implements audit.Store.
func (s *AuditStore) Append(ctx context.Context, rec domain.AuditRecord) error {
	before, err := marshalState(rec.BeforeState)
	if err != nil {
		return fmt.Errorf("encode before state of %s: %w", rec.ID, err)
	}
	after, err := marshalState(rec.AfterState)
	if err != nil {
		return fmt.Errorf("encode after state of %s: %w", rec.ID, err)
	}
	modified, err := json.Marshal(nonNilChanges(rec.ModifiedFields))
	if err != nil {
		return fmt.Errorf("encode modified fields of %s: %w", rec.ID, err)
	}

	_, err = s.db.Exec(ctx, insertAuditSQL,
		rec.ID,
		rec.Timestamp,
		rec.OperationType,
		rec.EntityType,
		rec.EntityID,
		before,
		after,
		modified,
		string(rec.Status),
		rec.Error,
		rec.Actor,
	)
	if err != nil {
		return fmt.Errorf("insert audit record %s: %w", rec.ID, err)
	}
	return nil
}

// History implements audit.Store.
func (s *AuditStore) History(ctx context.Context, filter audit.HistoryFilter) ([]domain.AuditRecord, error) {
	query, args := historyQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var (
			rec                     domain.AuditRecord
			status                  string
			before, after, modified []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.OperationType, &rec.EntityType, &rec.EntityID,
			&before, &after, &modified, &status, &rec.Error, &rec.Actor); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Status = domain.AuditStatus(status)
		rec.Timestamp = rec.Timestamp.UTC()
		if err := json.Unmarshal(before, &rec.BeforeState); err != nil {
			return nil, fmt.Errorf("decode before state of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(after, &rec.AfterState); err != nil {
			return nil, fmt.Errorf("decode after state of %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(modified, &rec.ModifiedFields); err != nil {
			return nil, fmt.Errorf("decode modified fields of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit history: %w", err)
	}
	return out, nil
}

// Counts implements audit.Store.
func (s *AuditStore) Counts(ctx context.Context) ([]domain.OperationCount, error) {
	rows, err := s.db.Query(ctx, countAuditSQL)
	if err != nil {
		return nil, fmt.Errorf("query audit counts: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OperationCount, error) {
		var (
			c      domain.OperationCount
			status string
		)
		err := row.Scan(&c.OperationType, &status, &c.Count)
		c.Status = domain.AuditStatus(status)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("read audit counts: %w", err)
	}
	return counts, nil
}

func historyQuery(filter audit.HistoryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		conds = append(conds, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if filter.OperationType != "" {
		args = append(args, filter.OperationType)
		conds = append(conds, fmt.Sprintf("operation_type = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(selectAuditSQL)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY recorded_at DESC, seq DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func marshalState(state map[string]any) ([]byte, error) {
	if state == nil {
		state = map[string]any{}
	}
	return json.Marshal(state)
}

func nonNilChanges(changes map[string]domain.FieldChange) map[string]domain.FieldChange {
	if changes == nil {
		return map[string]domain.FieldChange{}
	}
	return changes
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS audit_log (
	seq             BIGSERIAL PRIMARY KEY,
	id              UUID NOT NULL UNIQUE,
	recorded_at     TIMESTAMPTZ NOT NULL,
	operation_type  TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	before_state    JSONB NOT NULL,
	after_state     JSONB NOT NULL,
	modified_fields JSONB NOT NULL,
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	actor           TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS audit_log_entity_idx ON audit_log (entity_id, recorded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS audit_log_operation_idx ON audit_log (operation_type, recorded_at DESC)`,
}

const insertAuditSQL = `INSERT INTO audit_log
	(id, recorded_at, operation_type, entity_type, entity_id, before_state, after_state, modified_fields, status, error, actor)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const selectAuditSQL = `SELECT id::text, recorded_at, operation_type, entity_type, entity_id,
	before_state, after_state, modified_fields, status, error, actor
FROM audit_log`

const countAuditSQL = `SELECT operation_type, status, count(*)
FROM audit_log
GROUP BY operation_type, status
ORDER BY count(*) DESC, operation_type, status`
