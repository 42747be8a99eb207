package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/plugindb/schema"
)

// MigrationRecord is one row in _migrations: a successfully applied
// migration for a plugin, identified by the hash of the DDL it issued.
// (plugin, hash) is unique, which is what makes racing callers converge
// to one applied migration.
type MigrationRecord struct {
	ID        uuid.UUID `json:"id"`
	Plugin    string    `json:"plugin_name"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// JournalOp is a single executed DDL statement within a journal entry.
type JournalOp struct {
	Type      schema.OpType `json:"type"`
	Table     string        `json:"table"`
	SQL       string        `json:"sql"`
	AppliedAt time.Time     `json:"applied_at"`
}

// JournalEntry is one row in _journal: the literal statements a migration
// run executed, in order, for audit and structural rollback.
type JournalEntry struct {
	ID        int64       `json:"id"`
	Plugin    string      `json:"plugin_name"`
	Ops       []JournalOp `json:"entries"`
	CreatedAt time.Time   `json:"created_at"`
}

// Tables returns the distinct tables the entry's operations referenced, in
// first-referenced order. Rollback drops them in reverse.
func (e JournalEntry) Tables() []string {
	seen := make(map[string]bool, len(e.Ops))
	var tables []string
	for _, op := range e.Ops {
		if !seen[op.Table] {
			seen[op.Table] = true
			tables = append(tables, op.Table)
		}
	}
	return tables
}
