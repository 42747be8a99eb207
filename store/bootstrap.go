package store

import (
	"context"
	"fmt"
)

// Bookkeeping DDL. Idempotent; applied once at startup before any plugin
// migration runs. The (plugin_name, hash) uniqueness on _migrations and the
// (plugin_name, idx) primary key on _snapshots back the engine's
// idempotence and monotonicity invariants at the database level.
const bootstrapDDL = `
CREATE TABLE IF NOT EXISTS _migrations (
    id          uuid PRIMARY KEY,
    plugin_name text NOT NULL,
    hash        text NOT NULL,
    created_at  timestamptz NOT NULL DEFAULT now(),
    UNIQUE (plugin_name, hash)
);

CREATE INDEX IF NOT EXISTS idx_migrations_plugin ON _migrations (plugin_name, created_at);

CREATE TABLE IF NOT EXISTS _journal (
    id          bigserial PRIMARY KEY,
    plugin_name text NOT NULL,
    entries     jsonb NOT NULL,
    created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_journal_plugin ON _journal (plugin_name, id);

CREATE TABLE IF NOT EXISTS _snapshots (
    plugin_name text NOT NULL,
    idx         integer NOT NULL,
    snapshot    jsonb NOT NULL,
    created_at  timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (plugin_name, idx)
);
`

// Bootstrap creates the bookkeeping tables if they do not exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, bootstrapDDL); err != nil {
		return fmt.Errorf("create bookkeeping tables: %w", err)
	}
	return nil
}
