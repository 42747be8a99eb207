package schema

import (
	"fmt"
	"sort"
	"strings"
)

// OpType classifies a generated DDL operation.
type OpType string

const (
	OpCreateTable   OpType = "create_table"
	OpAddColumn     OpType = "add_column"
	OpAddForeignKey OpType = "add_foreign_key"
)

// Operation is one DDL statement produced by the differ. Operations are
// executed in slice order inside a single transaction.
type Operation struct {
	Type  OpType `json:"type"`
	Table string `json:"table"`
	SQL   string `json:"sql"`
}

// UnsupportedChangeError reports a desired change the differ refuses to
// express as DDL: dropping tables or columns, or altering an existing
// column's structure. Additive changes are the supported path; anything
// destructive requires manual intervention.
type UnsupportedChangeError struct {
	Plugin string
	Table  string
	Column string
	Reason string
}

func (e *UnsupportedChangeError) Error() string {
	loc := e.Table
	if e.Column != "" {
		loc += "." + e.Column
	}
	return fmt.Sprintf("unsupported schema change for plugin %s at %s: %s", e.Plugin, loc, e.Reason)
}

// Diff compares the previous snapshot (nil when the plugin has never
// migrated) against the desired spec and returns the ordered operations
// that evolve one into the other. Any change the differ cannot express
// fails the whole diff; no partial operation list is ever returned.
//
// Operations come out in two passes: tables and columns first, foreign-key
// constraints second, so a table may reference another declared later in
// the same bundle.
func Diff(prev *Snapshot, desired Spec) ([]Operation, error) {
	if err := desired.Validate(); err != nil {
		return nil, err
	}

	var ops, fkOps []Operation

	for _, tableName := range desired.TableNames() {
		table := desired.Tables[tableName]

		var prevTable TableSpec
		exists := false
		if prev != nil {
			prevTable, exists = prev.Tables[tableName]
		}

		if !exists {
			ops = append(ops, Operation{
				Type:  OpCreateTable,
				Table: tableName,
				SQL:   createTableSQL(tableName, table),
			})
			for _, fk := range table.ForeignKeys {
				fkOps = append(fkOps, Operation{
					Type:  OpAddForeignKey,
					Table: tableName,
					SQL:   addForeignKeySQL(tableName, fk),
				})
			}
			continue
		}

		colOps, newFKs, err := diffTable(desired.Plugin, tableName, prevTable, table)
		if err != nil {
			return nil, err
		}
		ops = append(ops, colOps...)
		fkOps = append(fkOps, newFKs...)
	}

	// A table present in history but absent from the desired spec is a
	// drop, which the differ never performs implicitly.
	if prev != nil {
		for tableName := range prev.Tables {
			if _, ok := desired.Tables[tableName]; !ok {
				return nil, &UnsupportedChangeError{
					Plugin: desired.Plugin,
					Table:  tableName,
					Reason: "table removed from desired schema; drops require explicit rollback",
				}
			}
		}
	}

	return append(ops, fkOps...), nil
}

func diffTable(plugin, tableName string, prev, desired TableSpec) (ops, fkOps []Operation, err error) {
	colNames := make([]string, 0, len(desired.Columns))
	for name := range desired.Columns {
		colNames = append(colNames, name)
	}
	sort.Strings(colNames)

	for _, colName := range colNames {
		col := desired.Columns[colName]
		prevCol, ok := prev.Columns[colName]
		if !ok {
			ops = append(ops, Operation{
				Type:  OpAddColumn,
				Table: tableName,
				SQL:   addColumnSQL(tableName, colName, col),
			})
			continue
		}
		if !columnsEqual(prevCol, col) {
			return nil, nil, &UnsupportedChangeError{
				Plugin: plugin,
				Table:  tableName,
				Column: colName,
				Reason: "column definition changed; type and constraint alterations are not supported",
			}
		}
	}

	for colName := range prev.Columns {
		if _, ok := desired.Columns[colName]; !ok {
			return nil, nil, &UnsupportedChangeError{
				Plugin: plugin,
				Table:  tableName,
				Column: colName,
				Reason: "column removed from desired schema; drops are not supported",
			}
		}
	}

	if !stringSlicesEqual(prev.PrimaryKey, desired.PrimaryKey) {
		return nil, nil, &UnsupportedChangeError{
			Plugin: plugin,
			Table:  tableName,
			Reason: "primary key changed on an existing table",
		}
	}

	// Foreign keys may be added to an existing table; removal or
	// redefinition is destructive.
	prevFKs := make(map[string]bool, len(prev.ForeignKeys))
	for _, fk := range prev.ForeignKeys {
		prevFKs[fkKey(fk)] = true
	}
	desiredFKs := make(map[string]bool, len(desired.ForeignKeys))
	for _, fk := range desired.ForeignKeys {
		desiredFKs[fkKey(fk)] = true
		if !prevFKs[fkKey(fk)] {
			fkOps = append(fkOps, Operation{
				Type:  OpAddForeignKey,
				Table: tableName,
				SQL:   addForeignKeySQL(tableName, fk),
			})
		}
	}
	for _, fk := range prev.ForeignKeys {
		if !desiredFKs[fkKey(fk)] {
			return nil, nil, &UnsupportedChangeError{
				Plugin: plugin,
				Table:  tableName,
				Reason: fmt.Sprintf("foreign key to %s removed or redefined", fk.RefTable),
			}
		}
	}

	if !uniquesEqual(prev.Uniques, desired.Uniques) {
		return nil, nil, &UnsupportedChangeError{
			Plugin: plugin,
			Table:  tableName,
			Reason: "unique constraints changed on an existing table",
		}
	}

	return ops, fkOps, nil
}

func columnsEqual(a, b ColumnSpec) bool {
	return normalizeType(a.Type) == normalizeType(b.Type) &&
		a.NotNull == b.NotNull &&
		a.Default == b.Default &&
		a.Unique == b.Unique &&
		a.PrimaryKey == b.PrimaryKey
}

func normalizeType(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), " ")
}

func fkKey(fk ForeignKeySpec) string {
	return strings.Join(fk.Columns, ",") + "->" + fk.RefTable + "(" + strings.Join(fk.RefColumns, ",") + ") " + strings.ToUpper(fk.OnDelete)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func uniquesEqual(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, u := range a {
		seen[strings.Join(u, ",")]++
	}
	for _, u := range b {
		seen[strings.Join(u, ",")]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
