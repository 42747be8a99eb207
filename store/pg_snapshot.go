package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agentforge/plugindb/schema"
)

// PGSnapshotStore implements SnapshotStore over _snapshots.
type PGSnapshotStore struct{}

// Latest returns the snapshot with the highest idx for the plugin, or nil.
func (s *PGSnapshotStore) Latest(ctx context.Context, q Querier, plugin string) (*schema.Snapshot, error) {
	var raw []byte
	err := q.QueryRow(ctx,
		`SELECT snapshot
		 FROM _snapshots
		 WHERE plugin_name = $1
		 ORDER BY idx DESC
		 LIMIT 1`, plugin).
		Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query _snapshots for %s: %w", plugin, err)
	}
	snap, err := schema.ParseSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", plugin, err)
	}
	return snap, nil
}

// Insert stores a new snapshot.
func (s *PGSnapshotStore) Insert(ctx context.Context, q Querier, snap *schema.Snapshot) error {
	raw, err := snap.Encode()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`INSERT INTO _snapshots (plugin_name, idx, snapshot) VALUES ($1, $2, $3)`,
		snap.Plugin, snap.Idx, raw)
	if err != nil {
		return fmt.Errorf("insert _snapshots for %s idx %d: %w", snap.Plugin, snap.Idx, err)
	}
	return nil
}

// Delete removes the snapshot with the given idx.
func (s *PGSnapshotStore) Delete(ctx context.Context, q Querier, plugin string, idx int) error {
	_, err := q.Exec(ctx,
		`DELETE FROM _snapshots WHERE plugin_name = $1 AND idx = $2`, plugin, idx)
	if err != nil {
		return fmt.Errorf("delete _snapshots for %s idx %d: %w", plugin, idx, err)
	}
	return nil
}
