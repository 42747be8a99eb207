// Package rls installs and drives PostgreSQL row-level security for
// multi-tenant plugin tables. Isolation predicates live in the database,
// not in application code: once a table's policy is installed, no query,
// correct or buggy, can return another tenant's rows to a non-bypass
// session.
package rls

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/agentforge/plugindb/store"
)

// Scope selects which session-context variable a policy predicate reads.
type Scope string

const (
	// ScopeServer filters rows by the server the session is acting for.
	ScopeServer Scope = "server"
	// ScopeEntity filters rows by room participation of the session's entity.
	ScopeEntity Scope = "entity"
)

// Mode selects how a policy treats a session with no security context.
type Mode string

const (
	// ModePermissive shows all rows when no context is set. Used for
	// coarse server-level tenancy where bootstrap and admin paths query
	// before any request context exists.
	ModePermissive Mode = "permissive"
	// ModeStrict shows zero rows when no context is set. Used for
	// sensitive per-entity data such as logs, memories, and tasks.
	ModeStrict Mode = "strict"
)

// Policy declares row isolation for one table.
type Policy struct {
	Table string
	Scope Scope
	Mode  Mode
}

// Registry holds declared isolation policies and installs them as native
// row-security policies.
type Registry struct {
	mu       sync.Mutex
	policies map[string]Policy
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry. If logger is nil, slog.Default()
// is used.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{policies: make(map[string]Policy), logger: logger}
}

// Register declares a policy for a table, replacing any previous
// declaration for the same table.
func (r *Registry) Register(p Policy) error {
	if p.Table == "" {
		return fmt.Errorf("rls policy has no table")
	}
	switch p.Scope {
	case ScopeServer, ScopeEntity:
	default:
		return fmt.Errorf("rls policy for %s: unknown scope %q", p.Table, p.Scope)
	}
	switch p.Mode {
	case ModePermissive, ModeStrict:
	default:
		return fmt.Errorf("rls policy for %s: unknown mode %q", p.Table, p.Mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Table] = p
	return nil
}

// Policies returns the declared policies sorted by table name.
func (r *Registry) Policies() []Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// Install applies every registered policy. It must run on a connection
// owned by the table owner (or a superuser); the usual place is the one
// administrative bootstrap connection.
func (r *Registry) Install(ctx context.Context, q store.Querier) error {
	for _, p := range r.Policies() {
		if err := installPolicy(ctx, q, p); err != nil {
			return err
		}
		r.logger.Info("row security installed",
			"table", p.Table,
			"scope", string(p.Scope),
			"mode", string(p.Mode))
	}
	return nil
}

// InstallForTables applies registered policies for just the named tables,
// skipping tables with no declaration. Migration callers use this to bring
// row security to tables a migration just created.
func (r *Registry) InstallForTables(ctx context.Context, q store.Querier, tables []string) error {
	r.mu.Lock()
	selected := make([]Policy, 0, len(tables))
	for _, table := range tables {
		if p, ok := r.policies[table]; ok {
			selected = append(selected, p)
		}
	}
	r.mu.Unlock()

	for _, p := range selected {
		if err := installPolicy(ctx, q, p); err != nil {
			return err
		}
		r.logger.Info("row security installed",
			"table", p.Table,
			"scope", string(p.Scope),
			"mode", string(p.Mode))
	}
	return nil
}

func installPolicy(ctx context.Context, q store.Querier, p Policy) error {
	for _, sql := range policyDDL(p) {
		if _, err := q.Exec(ctx, sql); err != nil {
			return fmt.Errorf("install %s policy on %s: %w", p.Mode, p.Table, err)
		}
	}
	return nil
}
