// Package postgres upserts canonical records into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "products"

// Config controls the Postgres connection pool used for product rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes one row per product, replacing the previous harvest of the
// same product.
type Sink struct {
	pool  execCloser
	table string
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: pool, table: table}, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureTable creates the product table when it does not exist.
func (s *Sink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	product_id   TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	status       TEXT NOT NULL,
	validated    BOOLEAN NOT NULL,
	digest       TEXT NOT NULL,
	record       JSONB NOT NULL,
	harvested_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Save upserts the record and returns a postgres:// locator for the row.
func (s *Sink) Save(ctx context.Context, env harvest.Envelope) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("postgres sink is not configured")
	}
	productID := env.Outcome.ProductID()
	if productID == "" {
		return "", fmt.Errorf("record without product_id cannot be stored")
	}
	recordJSON, err := json.Marshal(env.Outcome.Record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	product_id,
	run_id,
	status,
	validated,
	digest,
	record,
	harvested_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)
ON CONFLICT (product_id) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	status = EXCLUDED.status,
	validated = EXCLUDED.validated,
	digest = EXCLUDED.digest,
	record = EXCLUDED.record,
	harvested_at = EXCLUDED.harvested_at`, s.table)

	args := []any{
		productID,
		env.RunID,
		env.Outcome.Status(),
		env.Outcome.Validated(),
		env.Digest,
		recordJSON,
		env.HarvestedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("upsert product %s: %w", productID, err)
	}
	return fmt.Sprintf("postgres://%s/%s", s.table, productID), nil
}
