// Package postgres mirrors crawl observations into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mse-history-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "observations"

// Config controls the Postgres connection pool used for observation rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ObservationStore writes observations into Postgres. Rows are keyed by
// (entity, from_date, to_date, row_index) so re-exporting a window is a no-op.
type ObservationStore struct {
	pool  txPool
	table string
}

var _ crawler.Exporter = (*ObservationStore)(nil)

// NewObservationStore connects a pool using the provided config.
func NewObservationStore(ctx context.Context, cfg Config) (*ObservationStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ObservationStore{pool: pool, table: table}, nil
}

// NewObservationStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewObservationStoreWithPool(pool txPool, table string) (*ObservationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ObservationStore{pool: pool, table: name}, nil
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
func (s *ObservationStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the observation table when it does not exist.
func (s *ObservationStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	entity     TEXT NOT NULL,
	from_date  TEXT NOT NULL,
	to_date    TEXT NOT NULL,
	row_index  INTEGER NOT NULL,
	fields     JSONB NOT NULL,
	run_id     TEXT NOT NULL,
	PRIMARY KEY (entity, from_date, to_date, row_index)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create observation table: %w", err)
	}
	return nil
}

// Name implements crawler.Exporter.
func (s *ObservationStore) Name() string {
	return "postgres"
}

// Export inserts the run's observations in one transaction. Rows without
// fields carry no data and are not exported.
func (s *ObservationStore) Export(ctx context.Context, runID string, rows []crawler.Observation) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("observation store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (entity, from_date, to_date, row_index, fields, run_id)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (entity, from_date, to_date, row_index) DO NOTHING`, s.table)

	index := make(map[crawler.CheckpointKey]int)
	for _, row := range rows {
		if len(row.Fields) == 0 {
			continue
		}
		key := row.Key()
		fields, mErr := json.Marshal(row.Fields)
		if mErr != nil {
			return fmt.Errorf("marshal fields: %w", mErr)
		}
		if _, err = tx.Exec(ctx, query, string(row.Entity), row.From, row.To, index[key], fields, runID); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		index[key]++
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}
	return nil
}
