package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentforge/plugindb/schema"
)

// ---------------------------------------------------------------------------
// Shared integration test helper
// ---------------------------------------------------------------------------

// newTestStore opens a Store using the PG_URL env var and bootstraps the
// bookkeeping tables. The test is skipped when PG_URL is not set.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	pgURL := os.Getenv("PG_URL")
	if pgURL == "" {
		t.Skip("PG_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewWithPool(pool)
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

// testPlugin returns a unique plugin name so parallel test runs never
// collide on the shared bookkeeping tables.
func testPlugin(t *testing.T) string {
	t.Helper()
	name := fmt.Sprintf("it_%s", uuid.New().String()[:8])
	return name
}

func cleanupPlugin(t *testing.T, s *Store, plugin string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = s.Pool().Exec(ctx, `DELETE FROM _migrations WHERE plugin_name = $1`, plugin)
		_, _ = s.Pool().Exec(ctx, `DELETE FROM _journal WHERE plugin_name = $1`, plugin)
		_, _ = s.Pool().Exec(ctx, `DELETE FROM _snapshots WHERE plugin_name = $1`, plugin)
	})
}

func TestBootstrap_Idempotent(t *testing.T) {
	s := newTestStore(t)
	// Running bootstrap again must not fail.
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
}

func TestPGMigrationStore_Integration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plugin := testPlugin(t)
	cleanupPlugin(t, s, plugin)

	rec, err := s.Migrations().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest on empty: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}

	first := MigrationRecord{ID: uuid.New(), Plugin: plugin, Hash: "hash-1"}
	if err := s.Migrations().Insert(ctx, s.Pool(), first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// (plugin, hash) is unique at the database level.
	dup := MigrationRecord{ID: uuid.New(), Plugin: plugin, Hash: "hash-1"}
	if err := s.Migrations().Insert(ctx, s.Pool(), dup); err == nil {
		t.Fatal("duplicate hash for the same plugin must be rejected")
	}

	time.Sleep(10 * time.Millisecond)
	second := MigrationRecord{ID: uuid.New(), Plugin: plugin, Hash: "hash-2"}
	if err := s.Migrations().Insert(ctx, s.Pool(), second); err != nil {
		t.Fatalf("insert second: %v", err)
	}

	rec, err = s.Migrations().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec == nil || rec.Hash != "hash-2" {
		t.Fatalf("latest = %+v, want hash-2", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}

	if err := s.Migrations().Delete(ctx, s.Pool(), plugin, "hash-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rec, err = s.Migrations().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest after delete: %v", err)
	}
	if rec == nil || rec.Hash != "hash-1" {
		t.Fatalf("latest after delete = %+v, want hash-1", rec)
	}
}

func TestPGJournalStore_Integration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plugin := testPlugin(t)
	cleanupPlugin(t, s, plugin)

	entry, err := s.Journal().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest on empty: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry, got %+v", entry)
	}

	ops := []JournalOp{
		{Type: schema.OpCreateTable, Table: "orders", SQL: `CREATE TABLE "orders" (...)`, AppliedAt: time.Now().UTC().Truncate(time.Microsecond)},
		{Type: schema.OpAddColumn, Table: "orders", SQL: `ALTER TABLE "orders" ADD COLUMN ...`, AppliedAt: time.Now().UTC().Truncate(time.Microsecond)},
	}
	id, err := s.Journal().Append(ctx, s.Pool(), JournalEntry{Plugin: plugin, Ops: ops})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == 0 {
		t.Fatal("append returned zero id")
	}

	entry, err = s.Journal().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if entry == nil || entry.ID != id || len(entry.Ops) != 2 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Ops[0].Type != schema.OpCreateTable || entry.Ops[0].Table != "orders" {
		t.Errorf("journal ops lost fidelity: %+v", entry.Ops[0])
	}

	if err := s.Journal().Delete(ctx, s.Pool(), id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entry, err = s.Journal().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest after delete: %v", err)
	}
	if entry != nil {
		t.Fatalf("entry survived delete: %+v", entry)
	}
}

func TestPGSnapshotStore_Integration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plugin := testPlugin(t)
	cleanupPlugin(t, s, plugin)

	snap, err := s.Snapshots().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest on empty: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot, got %+v", snap)
	}

	spec := schema.Spec{
		Plugin: plugin,
		Tables: map[string]schema.TableSpec{
			"orders": {Columns: map[string]schema.ColumnSpec{"id": {Type: "uuid", PrimaryKey: true}}},
		},
	}

	for idx := 1; idx <= 3; idx++ {
		if err := s.Snapshots().Insert(ctx, s.Pool(), schema.SnapshotFromSpec(spec, idx)); err != nil {
			t.Fatalf("insert idx %d: %v", idx, err)
		}
	}

	// (plugin_name, idx) is the primary key; re-inserting idx 3 must fail.
	if err := s.Snapshots().Insert(ctx, s.Pool(), schema.SnapshotFromSpec(spec, 3)); err == nil {
		t.Fatal("duplicate snapshot idx must be rejected")
	}

	snap, err = s.Snapshots().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if snap == nil || snap.Idx != 3 {
		t.Fatalf("latest = %+v, want idx 3", snap)
	}
	if _, ok := snap.Tables["orders"]; !ok {
		t.Error("snapshot lost table structure")
	}

	if err := s.Snapshots().Delete(ctx, s.Pool(), plugin, 3); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap, err = s.Snapshots().Latest(ctx, s.Pool(), plugin)
	if err != nil {
		t.Fatalf("latest after delete: %v", err)
	}
	if snap == nil || snap.Idx != 2 {
		t.Fatalf("latest after delete = %+v, want idx 2", snap)
	}
}
