// Package schema models plugin-declared relational schemas, versioned
// structural snapshots of them, and the diff between the two as an ordered
// list of DDL operations.
package schema

import (
	"fmt"
	"regexp"
	"sort"
)

// Spec is a named schema bundle: every table one plugin declares.
type Spec struct {
	Plugin string               `json:"plugin"`
	Tables map[string]TableSpec `json:"tables"`
}

// TableSpec describes the desired structure of a single table.
type TableSpec struct {
	Columns     map[string]ColumnSpec `json:"columns"`
	PrimaryKey  []string              `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKeySpec      `json:"foreign_keys,omitempty"`
	Uniques     [][]string            `json:"unique_constraints,omitempty"`
}

// ColumnSpec describes one column. Equality between two ColumnSpecs is
// structural over every field; declaration order never matters because
// columns live in a map keyed by name.
type ColumnSpec struct {
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null,omitempty"`
	Default    string `json:"default,omitempty"`
	Unique     bool   `json:"unique,omitempty"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// ForeignKeySpec describes a foreign-key constraint on a table.
type ForeignKeySpec struct {
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
	OnDelete   string   `json:"on_delete,omitempty"`
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks that the spec names a plugin and that every table, column
// and foreign-key reference uses a plain SQL identifier. Foreign keys may
// reference tables outside the bundle (shared platform tables such as
// rooms or participants), so only the referencing side is checked for
// membership.
func (s Spec) Validate() error {
	if s.Plugin == "" {
		return fmt.Errorf("schema spec has no plugin name")
	}
	for tableName, table := range s.Tables {
		if !identRe.MatchString(tableName) {
			return fmt.Errorf("plugin %s: invalid table name %q", s.Plugin, tableName)
		}
		if len(table.Columns) == 0 {
			return fmt.Errorf("plugin %s: table %s has no columns", s.Plugin, tableName)
		}
		for colName, col := range table.Columns {
			if !identRe.MatchString(colName) {
				return fmt.Errorf("plugin %s: table %s: invalid column name %q", s.Plugin, tableName, colName)
			}
			if col.Type == "" {
				return fmt.Errorf("plugin %s: table %s: column %s has no type", s.Plugin, tableName, colName)
			}
		}
		for _, pk := range table.PrimaryKey {
			if _, ok := table.Columns[pk]; !ok {
				return fmt.Errorf("plugin %s: table %s: primary key column %s not declared", s.Plugin, tableName, pk)
			}
		}
		for _, fk := range table.ForeignKeys {
			if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
				return fmt.Errorf("plugin %s: table %s: foreign key column count mismatch", s.Plugin, tableName)
			}
			if !identRe.MatchString(fk.RefTable) {
				return fmt.Errorf("plugin %s: table %s: invalid foreign key target %q", s.Plugin, tableName, fk.RefTable)
			}
			for _, c := range fk.Columns {
				if _, ok := table.Columns[c]; !ok {
					return fmt.Errorf("plugin %s: table %s: foreign key column %s not declared", s.Plugin, tableName, c)
				}
			}
		}
	}
	return nil
}

// TableNames returns the bundle's table names in sorted order.
func (s Spec) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
