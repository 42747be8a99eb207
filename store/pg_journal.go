package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGJournalStore implements JournalStore over _journal. Operations are
// stored as a jsonb array in the entries column.
type PGJournalStore struct{}

// Latest returns the most recent entry for the plugin, or nil.
func (s *PGJournalStore) Latest(ctx context.Context, q Querier, plugin string) (*JournalEntry, error) {
	var (
		entry JournalEntry
		raw   []byte
	)
	err := q.QueryRow(ctx,
		`SELECT id, plugin_name, entries, created_at
		 FROM _journal
		 WHERE plugin_name = $1
		 ORDER BY id DESC
		 LIMIT 1`, plugin).
		Scan(&entry.ID, &entry.Plugin, &raw, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query _journal for %s: %w", plugin, err)
	}
	if err := json.Unmarshal(raw, &entry.Ops); err != nil {
		return nil, fmt.Errorf("decode journal entries for %s: %w", plugin, err)
	}
	return &entry, nil
}

// Append stores a new entry and returns its id.
func (s *PGJournalStore) Append(ctx context.Context, q Querier, entry JournalEntry) (int64, error) {
	raw, err := json.Marshal(entry.Ops)
	if err != nil {
		return 0, fmt.Errorf("encode journal entries for %s: %w", entry.Plugin, err)
	}

	var id int64
	err = q.QueryRow(ctx,
		`INSERT INTO _journal (plugin_name, entries) VALUES ($1, $2) RETURNING id`,
		entry.Plugin, raw).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert _journal for %s: %w", entry.Plugin, err)
	}
	return id, nil
}

// Delete removes the entry with the given id.
func (s *PGJournalStore) Delete(ctx context.Context, q Querier, id int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM _journal WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete _journal %d: %w", id, err)
	}
	return nil
}
