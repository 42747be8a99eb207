package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentforge/plugindb/schema"
	"github.com/agentforge/plugindb/store"
)

// ===========================================================================
// Executor integration tests (real Postgres, real advisory locks)
// ===========================================================================

type pgEnv struct {
	pool *pgxpool.Pool
	st   *store.Store
	exec *Executor
}

// newPGEnv connects using the PG_URL env var; the test is skipped when it
// is not set.
func newPGEnv(t *testing.T) *pgEnv {
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

	st := store.NewWithPool(pool)
	if err := st.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	exec := NewExecutor(pool, Stores{
		Migrations: st.Migrations(),
		Journal:    st.Journal(),
		Snapshots:  st.Snapshots(),
	}, NewAdvisoryLock(pool), nil)

	return &pgEnv{pool: pool, st: st, exec: exec}
}

func (e *pgEnv) cleanupPlugin(t *testing.T, plugin string, tables ...string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		for _, table := range tables {
			_, _ = e.pool.Exec(ctx, schema.DropTableSQL(table))
		}
		_, _ = e.pool.Exec(ctx, `DELETE FROM _migrations WHERE plugin_name = $1`, plugin)
		_, _ = e.pool.Exec(ctx, `DELETE FROM _journal WHERE plugin_name = $1`, plugin)
		_, _ = e.pool.Exec(ctx, `DELETE FROM _snapshots WHERE plugin_name = $1`, plugin)
	})
}

func (e *pgEnv) tableExists(t *testing.T, table string) bool {
	t.Helper()
	var exists bool
	err := e.pool.QueryRow(context.Background(),
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).
		Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", table, err)
	}
	return exists
}

func (e *pgEnv) bookkeepingCounts(t *testing.T, plugin string) (migrations, journal, snapshots int) {
	t.Helper()
	ctx := context.Background()
	if err := e.pool.QueryRow(ctx, `SELECT count(*) FROM _migrations WHERE plugin_name = $1`, plugin).Scan(&migrations); err != nil {
		t.Fatalf("count _migrations: %v", err)
	}
	if err := e.pool.QueryRow(ctx, `SELECT count(*) FROM _journal WHERE plugin_name = $1`, plugin).Scan(&journal); err != nil {
		t.Fatalf("count _journal: %v", err)
	}
	if err := e.pool.QueryRow(ctx, `SELECT count(*) FROM _snapshots WHERE plugin_name = $1`, plugin).Scan(&snapshots); err != nil {
		t.Fatalf("count _snapshots: %v", err)
	}
	return migrations, journal, snapshots
}

func uniqueSuffix() string {
	return strings.ReplaceAll(uuid.New().String()[:8], "-", "")
}

func TestExecutor_Integration_FullLifecycle(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	sfx := uniqueSuffix()
	plugin := "it_orders_" + sfx
	table := "orders_" + sfx
	env.cleanupPlugin(t, plugin, table)

	v1 := schema.Spec{
		Plugin: plugin,
		Tables: map[string]schema.TableSpec{
			table: {Columns: map[string]schema.ColumnSpec{
				"id":    {Type: "uuid", PrimaryKey: true, Default: "gen_random_uuid()"},
				"total": {Type: "numeric", NotNull: true},
			}},
		},
	}

	// First run creates the table and exactly one row per bookkeeping table.
	res, err := env.exec.Migrate(ctx, v1)
	if err != nil {
		t.Fatalf("migrate v1: %v", err)
	}
	if !res.Applied || res.Idx != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !env.tableExists(t, table) {
		t.Fatalf("table %s not created", table)
	}
	m, j, s := env.bookkeepingCounts(t, plugin)
	if m != 1 || j != 1 || s != 1 {
		t.Fatalf("bookkeeping counts = %d/%d/%d, want 1/1/1", m, j, s)
	}

	// Identical schema: no-op, identical state.
	noop, err := env.exec.Migrate(ctx, v1)
	if err != nil {
		t.Fatalf("migrate no-op: %v", err)
	}
	if noop.Applied {
		t.Fatal("identical schema applied twice")
	}
	if noop.Hash != res.Hash {
		t.Errorf("no-op hash %s, want %s", noop.Hash, res.Hash)
	}
	m, j, s = env.bookkeepingCounts(t, plugin)
	if m != 1 || j != 1 || s != 1 {
		t.Fatalf("no-op mutated bookkeeping: %d/%d/%d", m, j, s)
	}

	// Additive upgrade: status column, idx 2, new hash.
	v2 := schema.Spec{Plugin: plugin, Tables: map[string]schema.TableSpec{
		table: {Columns: map[string]schema.ColumnSpec{
			"id":     {Type: "uuid", PrimaryKey: true, Default: "gen_random_uuid()"},
			"total":  {Type: "numeric", NotNull: true},
			"status": {Type: "text"},
		}},
	}}
	up, err := env.exec.Migrate(ctx, v2)
	if err != nil {
		t.Fatalf("migrate v2: %v", err)
	}
	if !up.Applied || up.Idx != 2 || up.Hash == res.Hash {
		t.Fatalf("unexpected upgrade result: %+v", up)
	}
	var colExists bool
	err = env.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = $1 AND column_name = 'status')`,
		table).Scan(&colExists)
	if err != nil || !colExists {
		t.Fatalf("status column missing (err=%v)", err)
	}

	st, err := env.exec.GetStatus(ctx, plugin)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.HasRun || st.LastHash != up.Hash || st.SnapshotIdx != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}

	// Structural rollback removes the table and the latest bookkeeping rows.
	if err := env.exec.Rollback(ctx, plugin); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if env.tableExists(t, table) {
		t.Error("table survived rollback")
	}
	m, j, s = env.bookkeepingCounts(t, plugin)
	if m != 1 || j != 1 || s != 1 {
		t.Errorf("rollback should remove one generation of bookkeeping: %d/%d/%d", m, j, s)
	}
}

func TestExecutor_Integration_FailedMigrationIsInvisible(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	sfx := uniqueSuffix()
	plugin := "it_broken_" + sfx
	table := "broken_" + sfx
	env.cleanupPlugin(t, plugin, table)

	// The foreign key references a table that does not exist, so the
	// second pass fails after the CREATE TABLE succeeded inside the tx.
	spec := schema.Spec{
		Plugin: plugin,
		Tables: map[string]schema.TableSpec{
			table: {
				Columns: map[string]schema.ColumnSpec{
					"id":       {Type: "uuid", PrimaryKey: true},
					"owner_id": {Type: "uuid", NotNull: true},
				},
				ForeignKeys: []schema.ForeignKeySpec{
					{Columns: []string{"owner_id"}, RefTable: "no_such_table_" + sfx, RefColumns: []string{"id"}},
				},
			},
		},
	}

	_, err := env.exec.Migrate(ctx, spec)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}

	if env.tableExists(t, table) {
		t.Error("partially migrated table exists after rollback")
	}
	m, j, s := env.bookkeepingCounts(t, plugin)
	if m != 0 || j != 0 || s != 0 {
		t.Errorf("bookkeeping written for failed migration: %d/%d/%d", m, j, s)
	}
}

func TestExecutor_Integration_ConcurrentCallers(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	sfx := uniqueSuffix()
	plugin := "it_race_" + sfx
	table := "race_" + sfx
	env.cleanupPlugin(t, plugin, table)

	spec := schema.Spec{
		Plugin: plugin,
		Tables: map[string]schema.TableSpec{
			table: {Columns: map[string]schema.ColumnSpec{
				"id": {Type: "uuid", PrimaryKey: true},
			}},
		},
	}

	const n = 5
	results := make([]Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = env.exec.Migrate(ctx, spec)
		}()
	}
	wg.Wait()

	applied := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d surfaced an error: %v", i, errs[i])
		}
		if results[i].Applied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one winner, got %d", applied)
	}
	m, _, _ := env.bookkeepingCounts(t, plugin)
	if m != 1 {
		t.Fatalf("expected exactly one _migrations row, got %d", m)
	}
}

func TestAdvisoryLock_Integration_MutualExclusion(t *testing.T) {
	env := newPGEnv(t)
	ctx := context.Background()

	lock := NewAdvisoryLock(env.pool)
	key := fmt.Sprintf("it_lock_%s", uniqueSuffix())

	release, err := lock.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	_, acquired, err := lock.TryAcquire(ctx, key)
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	if acquired {
		t.Fatal("advisory lock acquired twice")
	}

	_, acquired, err = lock.TryAcquire(ctx, key+"_other")
	if err != nil {
		t.Fatalf("try acquire other: %v", err)
	}
	if !acquired {
		t.Fatal("unrelated key blocked")
	}

	release()

	release2, acquired, err := lock.TryAcquire(ctx, key)
	if err != nil {
		t.Fatalf("try acquire after release: %v", err)
	}
	if !acquired {
		t.Fatal("lock not acquirable after release")
	}
	release2()
}
