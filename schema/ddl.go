package schema

import (
	"fmt"
	"sort"
	"strings"
)

// quoteIdent wraps an identifier in double quotes, doubling any embedded
// quote. Specs are validated to plain identifiers before DDL is rendered,
// so this is belt for braces that already exist.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func columnDDL(name string, col ColumnSpec) string {
	var b strings.Builder
	b.WriteString(quoteIdent(name))
	b.WriteByte(' ')
	b.WriteString(col.Type)
	if col.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if col.NotNull && !col.PrimaryKey {
		b.WriteString(" NOT NULL")
	}
	if col.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(col.Default)
	}
	if col.Unique && !col.PrimaryKey {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// createTableSQL renders a CREATE TABLE statement for the table without its
// foreign keys; those are emitted in a second pass so reference order never
// matters within a bundle.
func createTableSQL(tableName string, table TableSpec) string {
	colNames := make([]string, 0, len(table.Columns))
	for name := range table.Columns {
		colNames = append(colNames, name)
	}
	sort.Strings(colNames)

	parts := make([]string, 0, len(colNames)+1+len(table.Uniques))
	for _, name := range colNames {
		parts = append(parts, "    "+columnDDL(name, table.Columns[name]))
	}
	if len(table.PrimaryKey) > 0 {
		parts = append(parts, "    PRIMARY KEY ("+quoteIdentList(table.PrimaryKey)+")")
	}
	for _, u := range table.Uniques {
		parts = append(parts, "    UNIQUE ("+quoteIdentList(u)+")")
	}

	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", quoteIdent(tableName), strings.Join(parts, ",\n"))
}

func addColumnSQL(tableName, colName string, col ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
		quoteIdent(tableName), columnDDL(colName, col))
}

func addForeignKeySQL(tableName string, fk ForeignKeySpec) string {
	name := fmt.Sprintf("%s_%s_fkey", tableName, strings.Join(fk.Columns, "_"))
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		quoteIdent(tableName), quoteIdent(name),
		quoteIdentList(fk.Columns), quoteIdent(fk.RefTable), quoteIdentList(fk.RefColumns))
	if fk.OnDelete != "" {
		sql += " ON DELETE " + fk.OnDelete
	}
	return sql
}

// DropTableSQL renders the statement rollback uses to remove a table.
func DropTableSQL(tableName string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", quoteIdent(tableName))
}
