package store

import (
	"context"

	"github.com/agentforge/plugindb/schema"
)

// MigrationStore persists applied-migration records.
type MigrationStore interface {
	// Latest returns the most recent record for the plugin, or nil when
	// the plugin has never migrated.
	Latest(ctx context.Context, q Querier, plugin string) (*MigrationRecord, error)
	// Insert stores a new record.
	Insert(ctx context.Context, q Querier, rec MigrationRecord) error
	// Delete removes the record with the given hash.
	Delete(ctx context.Context, q Querier, plugin, hash string) error
}

// JournalStore persists the append-only DDL journal.
type JournalStore interface {
	// Latest returns the most recent entry for the plugin, or nil.
	Latest(ctx context.Context, q Querier, plugin string) (*JournalEntry, error)
	// Append stores a new entry and returns its id.
	Append(ctx context.Context, q Querier, entry JournalEntry) (int64, error)
	// Delete removes the entry with the given id.
	Delete(ctx context.Context, q Querier, id int64) error
}

// SnapshotStore persists versioned schema snapshots.
type SnapshotStore interface {
	// Latest returns the snapshot with the highest idx for the plugin,
	// or nil when none exists.
	Latest(ctx context.Context, q Querier, plugin string) (*schema.Snapshot, error)
	// Insert stores a new snapshot.
	Insert(ctx context.Context, q Querier, snap *schema.Snapshot) error
	// Delete removes the snapshot with the given idx.
	Delete(ctx context.Context, q Querier, plugin string, idx int) error
}
