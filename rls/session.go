package rls

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentforge/plugindb/store"
)

// SessionContext is the tenant scope a request-bound transaction runs
// under. Zero-value IDs mean "no context" for that dimension.
type SessionContext struct {
	EntityID uuid.UUID
	ServerID uuid.UUID
}

// Apply sets the session-context parameters on the given transaction via
// SET LOCAL semantics (set_config with is_local=true), so the scope dies
// with the transaction and can never leak to another pooled session. Call
// it first thing in every request-bound transaction, before any query
// against an isolated table.
func (s SessionContext) Apply(ctx context.Context, q store.Querier) error {
	entity := ""
	if s.EntityID != uuid.Nil {
		entity = s.EntityID.String()
	}
	server := ""
	if s.ServerID != uuid.Nil {
		server = s.ServerID.String()
	}

	if _, err := q.Exec(ctx, `SELECT set_config('app.entity_id', $1, true)`, entity); err != nil {
		return fmt.Errorf("set app.entity_id: %w", err)
	}
	if _, err := q.Exec(ctx, `SELECT set_config('app.server_id', $1, true)`, server); err != nil {
		return fmt.Errorf("set app.server_id: %w", err)
	}
	return nil
}
