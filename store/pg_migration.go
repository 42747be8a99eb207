package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGMigrationStore implements MigrationStore over _migrations.
type PGMigrationStore struct{}

// Latest returns the most recent record for the plugin, or nil.
func (s *PGMigrationStore) Latest(ctx context.Context, q Querier, plugin string) (*MigrationRecord, error) {
	var rec MigrationRecord
	err := q.QueryRow(ctx,
		`SELECT id, plugin_name, hash, created_at
		 FROM _migrations
		 WHERE plugin_name = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, plugin).
		Scan(&rec.ID, &rec.Plugin, &rec.Hash, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query _migrations for %s: %w", plugin, err)
	}
	return &rec, nil
}

// Insert stores a new record.
func (s *PGMigrationStore) Insert(ctx context.Context, q Querier, rec MigrationRecord) error {
	_, err := q.Exec(ctx,
		`INSERT INTO _migrations (id, plugin_name, hash) VALUES ($1, $2, $3)`,
		rec.ID, rec.Plugin, rec.Hash)
	if err != nil {
		return fmt.Errorf("insert _migrations for %s: %w", rec.Plugin, err)
	}
	return nil
}

// Delete removes the record with the given hash.
func (s *PGMigrationStore) Delete(ctx context.Context, q Querier, plugin, hash string) error {
	_, err := q.Exec(ctx,
		`DELETE FROM _migrations WHERE plugin_name = $1 AND hash = $2`, plugin, hash)
	if err != nil {
		return fmt.Errorf("delete _migrations for %s: %w", plugin, err)
	}
	return nil
}
