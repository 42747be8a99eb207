package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agentforge/plugindb/schema"
	"github.com/agentforge/plugindb/store"
)

// DB is the database handle the executor runs against. *pgxpool.Pool
// satisfies it.
type DB interface {
	store.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Stores bundles the bookkeeping stores the executor writes.
type Stores struct {
	Migrations store.MigrationStore
	Journal    store.JournalStore
	Snapshots  store.SnapshotStore
}

// Result reports the outcome of one Migrate call.
type Result struct {
	Plugin     string
	Applied    bool
	Hash       string
	Idx        int
	Operations int
}

// Status reports a plugin's migration history.
type Status struct {
	Plugin        string
	HasRun        bool
	LastHash      string
	LastAppliedAt time.Time
	SnapshotIdx   int
}

// DefaultLockTimeout bounds the wait for a plugin's migration lock unless
// the caller configures otherwise.
const DefaultLockTimeout = 30 * time.Second

// Executor applies plugin schema migrations. Every side effect of one
// Migrate call (DDL, snapshot, journal entry, migration record) lives in
// a single transaction, and same-plugin calls across processes serialize
// on an advisory lock.
type Executor struct {
	db      DB
	stores  Stores
	locker  DistributedLock
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	// LockTimeout bounds the wait for a plugin's migration lock.
	LockTimeout time.Duration
}

// NewExecutor creates an Executor. If logger is nil, slog.Default() is used.
func NewExecutor(db DB, stores Stores, locker DistributedLock, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		db:          db,
		stores:      stores,
		locker:      locker,
		logger:      logger,
		metrics:     NewMetrics(),
		tracer:      otel.GetTracerProvider().Tracer("plugindb.migration"),
		LockTimeout: DefaultLockTimeout,
	}
}

// Metrics returns the executor's Prometheus metrics for exposition.
func (e *Executor) Metrics() *Metrics { return e.metrics }

// Migrate evolves the database to match the plugin's desired schema. It
// acquires the plugin's advisory lock, diffs the latest snapshot against
// the spec, and applies the resulting DDL plus all bookkeeping in one
// transaction. An empty diff is a no-op with Applied=false; this is how N
// racing callers for the same plugin converge to one applied migration
// and N-1 no-ops.
func (e *Executor) Migrate(ctx context.Context, desired schema.Spec) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "migration.migrate",
		trace.WithAttributes(attribute.String("plugin", desired.Plugin)))
	defer span.End()

	start := time.Now()
	res, err := e.migrateLocked(ctx, desired)
	e.metrics.Duration.WithLabelValues(desired.Plugin).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrLockTimeout):
		e.metrics.Runs.WithLabelValues(desired.Plugin, "lock_timeout").Inc()
	case err != nil:
		e.metrics.Runs.WithLabelValues(desired.Plugin, "error").Inc()
	case res.Applied:
		e.metrics.Runs.WithLabelValues(desired.Plugin, "applied").Inc()
	default:
		e.metrics.Runs.WithLabelValues(desired.Plugin, "noop").Inc()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (e *Executor) migrateLocked(ctx context.Context, desired schema.Spec) (Result, error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout())
	defer cancel()

	release, err := e.locker.Acquire(lockCtx, LockKeyForPlugin(desired.Plugin))
	if err != nil {
		return Result{Plugin: desired.Plugin}, err
	}
	defer release()

	return e.migrateTx(ctx, desired)
}

func (e *Executor) migrateTx(ctx context.Context, desired schema.Spec) (Result, error) {
	plugin := desired.Plugin
	res := Result{Plugin: plugin}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return res, &ExecutionError{Plugin: plugin, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	prev, err := e.stores.Snapshots.Latest(ctx, tx, plugin)
	if err != nil {
		return res, &ExecutionError{Plugin: plugin, Err: err}
	}

	lastRec, err := e.stores.Migrations.Latest(ctx, tx, plugin)
	if err != nil {
		return res, &ExecutionError{Plugin: plugin, Err: err}
	}
	if lastRec != nil && prev == nil {
		return res, &CorruptionError{
			Plugin: plugin,
			Detail: fmt.Sprintf("migration record %s exists but no snapshot was found", lastRec.Hash),
		}
	}

	ops, err := schema.Diff(prev, desired)
	if err != nil {
		return res, err
	}

	if len(ops) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return res, &ExecutionError{Plugin: plugin, Err: fmt.Errorf("commit no-op: %w", err)}
		}
		if lastRec != nil {
			res.Hash = lastRec.Hash
		}
		if prev != nil {
			res.Idx = prev.Idx
		}
		e.logger.Info("schema up to date", "plugin", plugin, "idx", res.Idx)
		return res, nil
	}

	journalOps := make([]store.JournalOp, 0, len(ops))
	for _, op := range ops {
		if _, err := tx.Exec(ctx, op.SQL); err != nil {
			return res, &ExecutionError{Plugin: plugin, SQL: op.SQL, Err: err}
		}
		journalOps = append(journalOps, store.JournalOp{
			Type:      op.Type,
			Table:     op.Table,
			SQL:       op.SQL,
			AppliedAt: time.Now().UTC(),
		})
		e.metrics.Operations.WithLabelValues(plugin, string(op.Type)).Inc()
	}

	idx := 1
	if prev != nil {
		idx = prev.Idx + 1
	}
	snap := schema.SnapshotFromSpec(desired, idx)
	if err := e.stores.Snapshots.Insert(ctx, tx, snap); err != nil {
		return res, &ExecutionError{Plugin: plugin, Err: err}
	}

	if _, err := e.stores.Journal.Append(ctx, tx, store.JournalEntry{Plugin: plugin, Ops: journalOps}); err != nil {
		return res, &ExecutionError{Plugin: plugin, Err: err}
	}

	hash := schema.HashOperations(ops)
	rec := store.MigrationRecord{ID: uuid.New(), Plugin: plugin, Hash: hash}
	if err := e.stores.Migrations.Insert(ctx, tx, rec); err != nil {
		return res, &ExecutionError{Plugin: plugin, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, &ExecutionError{Plugin: plugin, Err: fmt.Errorf("commit: %w", err)}
	}

	res.Applied = true
	res.Hash = hash
	res.Idx = idx
	res.Operations = len(ops)
	e.logger.Info("migration applied",
		"plugin", plugin,
		"idx", idx,
		"operations", len(ops),
		"hash", hash[:12])
	return res, nil
}

// MigrateAll migrates every spec, fanning out across plugins. Different
// plugin names never contend for a lock, so they proceed in parallel; the
// first failure cancels the remaining work.
func (e *Executor) MigrateAll(ctx context.Context, specs ...schema.Spec) ([]Result, error) {
	results := make([]Result, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			res, err := e.Migrate(ctx, spec)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// GetStatus reads the plugin's migration history without taking the lock.
// Reads run under read-committed semantics; slight staleness during an
// in-flight migration is acceptable.
func (e *Executor) GetStatus(ctx context.Context, plugin string) (Status, error) {
	st := Status{Plugin: plugin}

	rec, err := e.stores.Migrations.Latest(ctx, e.db, plugin)
	if err != nil {
		return st, &ExecutionError{Plugin: plugin, Err: err}
	}
	snap, err := e.stores.Snapshots.Latest(ctx, e.db, plugin)
	if err != nil {
		return st, &ExecutionError{Plugin: plugin, Err: err}
	}

	if rec == nil {
		return st, nil
	}
	if snap == nil {
		return st, &CorruptionError{
			Plugin: plugin,
			Detail: fmt.Sprintf("migration record %s exists but no snapshot was found", rec.Hash),
		}
	}

	st.HasRun = true
	st.LastHash = rec.Hash
	st.LastAppliedAt = rec.CreatedAt
	st.SnapshotIdx = snap.Idx
	return st, nil
}

// Rollback drops every table the plugin's latest journal entry referenced,
// in reverse order, and deletes the matching bookkeeping rows, all in
// one transaction. Structure-only: no data-preserving downgrade is
// attempted. A plugin with no journal history is a no-op.
func (e *Executor) Rollback(ctx context.Context, plugin string) error {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout())
	defer cancel()

	release, err := e.locker.Acquire(lockCtx, LockKeyForPlugin(plugin))
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return &ExecutionError{Plugin: plugin, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry, err := e.stores.Journal.Latest(ctx, tx, plugin)
	if err != nil {
		return &ExecutionError{Plugin: plugin, Err: err}
	}
	if entry == nil {
		e.logger.Info("nothing to roll back", "plugin", plugin)
		return nil
	}

	tables := entry.Tables()
	for i := len(tables) - 1; i >= 0; i-- {
		sql := schema.DropTableSQL(tables[i])
		if _, err := tx.Exec(ctx, sql); err != nil {
			return &ExecutionError{Plugin: plugin, SQL: sql, Err: err}
		}
	}

	rec, err := e.stores.Migrations.Latest(ctx, tx, plugin)
	if err != nil {
		return &ExecutionError{Plugin: plugin, Err: err}
	}
	if rec != nil {
		if err := e.stores.Migrations.Delete(ctx, tx, plugin, rec.Hash); err != nil {
			return &ExecutionError{Plugin: plugin, Err: err}
		}
	}

	if err := e.stores.Journal.Delete(ctx, tx, entry.ID); err != nil {
		return &ExecutionError{Plugin: plugin, Err: err}
	}

	snap, err := e.stores.Snapshots.Latest(ctx, tx, plugin)
	if err != nil {
		return &ExecutionError{Plugin: plugin, Err: err}
	}
	if snap != nil {
		if err := e.stores.Snapshots.Delete(ctx, tx, plugin, snap.Idx); err != nil {
			return &ExecutionError{Plugin: plugin, Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &ExecutionError{Plugin: plugin, Err: fmt.Errorf("commit: %w", err)}
	}

	e.logger.Info("rolled back latest migration",
		"plugin", plugin,
		"tables_dropped", len(tables))
	return nil
}

func (e *Executor) lockTimeout() time.Duration {
	if e.LockTimeout > 0 {
		return e.LockTimeout
	}
	return DefaultLockTimeout
}
