package rls

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentforge/plugindb/store"
)

// Session-context accessor functions. Each reads a transaction-local
// configuration parameter set via SET LOCAL and returns NULL when the
// parameter is unset or empty, so predicates can distinguish "no context"
// from a real scope. Idempotent; applied once at bootstrap on the
// administrative connection.
const contextFunctionsDDL = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE OR REPLACE FUNCTION current_entity_id() RETURNS uuid AS $$
    SELECT NULLIF(current_setting('app.entity_id', true), '')::uuid
$$ LANGUAGE sql STABLE;

CREATE OR REPLACE FUNCTION current_server_id() RETURNS uuid AS $$
    SELECT NULLIF(current_setting('app.server_id', true), '')::uuid
$$ LANGUAGE sql STABLE;
`

// The strict predicate correlates rows to the session entity through room
// participation. The participants table belongs to the platform's shared
// schema; it is created here only if the platform has not already done so,
// because the predicate cannot exist without it.
const participantsDDL = `
CREATE TABLE IF NOT EXISTS participants (
    entity_id uuid NOT NULL,
    room_id   uuid NOT NULL,
    PRIMARY KEY (entity_id, room_id)
);

CREATE INDEX IF NOT EXISTS idx_participants_room ON participants (room_id, entity_id);
`

// Bootstrap installs the session-context functions and the participants
// table the strict predicate correlates against. Must run on the
// administrative connection before any policy is installed.
func Bootstrap(ctx context.Context, q store.Querier) error {
	if _, err := q.Exec(ctx, contextFunctionsDDL); err != nil {
		return fmt.Errorf("create session context functions: %w", err)
	}
	if _, err := q.Exec(ctx, participantsDDL); err != nil {
		return fmt.Errorf("create participants table: %w", err)
	}
	return nil
}

// policyName is consistent per scope so re-installation replaces rather
// than accumulates policies.
func policyName(scope Scope) string {
	if scope == ScopeServer {
		return "server_isolation_policy"
	}
	return "entity_isolation_policy"
}

// predicate renders the row-visibility expression for a policy. The mode
// decides what a session with no context sees: permissive policies open up
// (bootstrap and admin paths work unscoped), strict policies return zero
// rows even on non-bypass connections.
func predicate(p Policy) string {
	table := quoteIdent(p.Table)
	switch p.Scope {
	case ScopeServer:
		scoped := fmt.Sprintf("%s.server_id = current_server_id()", table)
		if p.Mode == ModePermissive {
			return "(current_server_id() IS NULL) OR (" + scoped + ")"
		}
		return "(current_server_id() IS NOT NULL) AND (" + scoped + ")"
	default:
		participates := fmt.Sprintf(
			"EXISTS (SELECT 1 FROM participants p WHERE p.room_id = %s.room_id AND p.entity_id = current_entity_id())",
			table)
		if p.Mode == ModePermissive {
			return "(current_entity_id() IS NULL) OR (" + participates + ")"
		}
		return "(current_entity_id() IS NOT NULL) AND (" + participates + ")"
	}
}

// policyDDL renders the statements that enable and (re)create row security
// for one table. FORCE subjects the table owner to the policy as well;
// only roles with BYPASSRLS see through it.
func policyDDL(p Policy) []string {
	table := quoteIdent(p.Table)
	name := policyName(p.Scope)
	pred := predicate(p)
	return []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
		fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", table),
		fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", name, table),
		fmt.Sprintf("CREATE POLICY %s ON %s FOR ALL USING (%s) WITH CHECK (%s)",
			name, table, pred, pred),
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
