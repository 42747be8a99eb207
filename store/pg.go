// Package store persists the migration engine's bookkeeping: applied
// migration records, the DDL journal, and structural schema snapshots.
// Everything is backed by PostgreSQL through a shared pgx pool; every
// store method takes a Querier so it can run inside the migration
// transaction or directly on the pool.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx. Store
// methods take it per call so a caller decides whether reads and writes
// join a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL             string `yaml:"url" json:"url"`
	MaxConns        int32  `yaml:"max_conns" json:"max_conns"`
	MinConns        int32  `yaml:"min_conns" json:"min_conns"`
	MaxConnIdleTime string `yaml:"max_conn_idle_time" json:"max_conn_idle_time"`
}

// Store wraps a pgxpool.Pool and provides access to the bookkeeping stores.
type Store struct {
	pool *pgxpool.Pool

	migrations *PGMigrationStore
	journal    *PGJournalStore
	snapshots  *PGSnapshotStore
}

// New connects to PostgreSQL and returns a Store.
func New(ctx context.Context, cfg PGConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime != "" {
		idle, err := time.ParseDuration(cfg.MaxConnIdleTime)
		if err != nil {
			return nil, fmt.Errorf("parse max_conn_idle_time: %w", err)
		}
		poolCfg.MaxConnIdleTime = idle
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool, for callers that manage their own
// pool lifecycle.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:       pool,
		migrations: &PGMigrationStore{},
		journal:    &PGJournalStore{},
		snapshots:  &PGSnapshotStore{},
	}
}

// Pool returns the underlying pgxpool.Pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Migrations returns the MigrationStore.
func (s *Store) Migrations() MigrationStore { return s.migrations }

// Journal returns the JournalStore.
func (s *Store) Journal() JournalStore { return s.journal }

// Snapshots returns the SnapshotStore.
func (s *Store) Snapshots() SnapshotStore { return s.snapshots }
