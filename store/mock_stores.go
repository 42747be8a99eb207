package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentforge/plugindb/schema"
)

// In-memory store implementations for tests and single-process tooling
// that substitute for the PG-backed stores behind the same interfaces.
// They ignore the Querier argument; nothing here is transactional, so
// tests that care about atomicity drive them through the executor's
// commit/rollback hooks instead.

// MemMigrationStore is an in-memory MigrationStore.
type MemMigrationStore struct {
	mu   sync.Mutex
	recs map[string][]MigrationRecord

	// FailInsert forces the next Insert to return this error.
	FailInsert error
}

// NewMemMigrationStore creates an empty MemMigrationStore.
func NewMemMigrationStore() *MemMigrationStore {
	return &MemMigrationStore{recs: make(map[string][]MigrationRecord)}
}

// Latest returns the most recent record for the plugin, or nil.
func (s *MemMigrationStore) Latest(_ context.Context, _ Querier, plugin string) (*MigrationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.recs[plugin]
	if len(recs) == 0 {
		return nil, nil
	}
	rec := recs[len(recs)-1]
	return &rec, nil
}

// Insert stores a new record.
func (s *MemMigrationStore) Insert(_ context.Context, _ Querier, rec MigrationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return s.FailInsert
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.recs[rec.Plugin] = append(s.recs[rec.Plugin], rec)
	return nil
}

// Delete removes the record with the given hash.
func (s *MemMigrationStore) Delete(_ context.Context, _ Querier, plugin, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.recs[plugin]
	for i, rec := range recs {
		if rec.Hash == hash {
			s.recs[plugin] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

// All returns every record for the plugin, oldest first.
func (s *MemMigrationStore) All(plugin string) []MigrationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MigrationRecord(nil), s.recs[plugin]...)
}

// MemJournalStore is an in-memory JournalStore.
type MemJournalStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string][]JournalEntry
}

// NewMemJournalStore creates an empty MemJournalStore.
func NewMemJournalStore() *MemJournalStore {
	return &MemJournalStore{nextID: 1, entries: make(map[string][]JournalEntry)}
}

// Latest returns the most recent entry for the plugin, or nil.
func (s *MemJournalStore) Latest(_ context.Context, _ Querier, plugin string) (*JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.entries[plugin]
	if len(entries) == 0 {
		return nil, nil
	}
	entry := entries[len(entries)-1]
	return &entry, nil
}

// Append stores a new entry and returns its id.
func (s *MemJournalStore) Append(_ context.Context, _ Querier, entry JournalEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.nextID
	s.nextID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[entry.Plugin] = append(s.entries[entry.Plugin], entry)
	return entry.ID, nil
}

// Delete removes the entry with the given id.
func (s *MemJournalStore) Delete(_ context.Context, _ Querier, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for plugin, entries := range s.entries {
		for i, entry := range entries {
			if entry.ID == id {
				s.entries[plugin] = append(entries[:i:i], entries[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// All returns every entry for the plugin, oldest first.
func (s *MemJournalStore) All(plugin string) []JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]JournalEntry(nil), s.entries[plugin]...)
}

// MemSnapshotStore is an in-memory SnapshotStore.
type MemSnapshotStore struct {
	mu    sync.Mutex
	snaps map[string][]*schema.Snapshot
}

// NewMemSnapshotStore creates an empty MemSnapshotStore.
func NewMemSnapshotStore() *MemSnapshotStore {
	return &MemSnapshotStore{snaps: make(map[string][]*schema.Snapshot)}
}

// Latest returns the snapshot with the highest idx, or nil.
func (s *MemSnapshotStore) Latest(_ context.Context, _ Querier, plugin string) (*schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.snaps[plugin]
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[len(snaps)-1], nil
}

// Insert stores a new snapshot.
func (s *MemSnapshotStore) Insert(_ context.Context, _ Querier, snap *schema.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Plugin] = append(s.snaps[snap.Plugin], snap)
	sort.Slice(s.snaps[snap.Plugin], func(i, j int) bool {
		return s.snaps[snap.Plugin][i].Idx < s.snaps[snap.Plugin][j].Idx
	})
	return nil
}

// Delete removes the snapshot with the given idx.
func (s *MemSnapshotStore) Delete(_ context.Context, _ Querier, plugin string, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.snaps[plugin]
	for i, snap := range snaps {
		if snap.Idx == idx {
			s.snaps[plugin] = append(snaps[:i:i], snaps[i+1:]...)
			return nil
		}
	}
	return nil
}

// All returns every snapshot for the plugin, lowest idx first.
func (s *MemSnapshotStore) All(plugin string) []*schema.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*schema.Snapshot(nil), s.snaps[plugin]...)
}
