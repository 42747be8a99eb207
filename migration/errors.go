// Package migration orchestrates plugin schema migrations: advisory-lock
// coordination, transactional DDL application, and the bookkeeping that
// records every applied change.
package migration

import (
	"errors"
	"fmt"
)

// ErrLockTimeout is returned when the plugin's advisory lock could not be
// acquired within the configured wait. Retryable; another process holds
// the lock and is likely applying the same migration.
var ErrLockTimeout = errors.New("migration lock acquisition timed out")

// ExecutionError wraps an underlying SQL failure during a migration
// transaction. The transaction is always rolled back before this is
// returned, so the database holds none of the run's effects. Retryable
// when the underlying failure is transient.
type ExecutionError struct {
	Plugin string
	SQL    string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.SQL != "" {
		return fmt.Sprintf("migration for plugin %s failed executing %q: %v", e.Plugin, e.SQL, e.Err)
	}
	return fmt.Sprintf("migration for plugin %s failed: %v", e.Plugin, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CorruptionError reports bookkeeping that disagrees with itself, such as
// a migration record with no matching snapshot. Never auto-healed; an
// operator has to reconcile history with the actual database structure.
type CorruptionError struct {
	Plugin string
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("migration bookkeeping corrupt for plugin %s: %s", e.Plugin, e.Detail)
}
