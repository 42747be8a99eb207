package schema

import (
	"encoding/json"
	"fmt"
)

// Snapshot is a persisted structural description of a plugin's tables at a
// point in its migration history. Snapshots are immutable once written; a
// successful migration stores a new snapshot with Idx incremented.
type Snapshot struct {
	Plugin string               `json:"plugin"`
	Idx    int                  `json:"idx"`
	Tables map[string]TableSpec `json:"tables"`
}

// SnapshotFromSpec captures the desired spec as the snapshot with the given
// index. The table map is deep-copied so later mutation of the spec cannot
// alter persisted history.
func SnapshotFromSpec(s Spec, idx int) *Snapshot {
	tables := make(map[string]TableSpec, len(s.Tables))
	for name, table := range s.Tables {
		tables[name] = copyTable(table)
	}
	return &Snapshot{Plugin: s.Plugin, Idx: idx, Tables: tables}
}

func copyTable(t TableSpec) TableSpec {
	out := TableSpec{
		Columns:     make(map[string]ColumnSpec, len(t.Columns)),
		PrimaryKey:  append([]string(nil), t.PrimaryKey...),
		ForeignKeys: make([]ForeignKeySpec, 0, len(t.ForeignKeys)),
		Uniques:     make([][]string, 0, len(t.Uniques)),
	}
	for name, col := range t.Columns {
		out.Columns[name] = col
	}
	for _, fk := range t.ForeignKeys {
		out.ForeignKeys = append(out.ForeignKeys, ForeignKeySpec{
			Columns:    append([]string(nil), fk.Columns...),
			RefTable:   fk.RefTable,
			RefColumns: append([]string(nil), fk.RefColumns...),
			OnDelete:   fk.OnDelete,
		})
	}
	for _, u := range t.Uniques {
		out.Uniques = append(out.Uniques, append([]string(nil), u...))
	}
	if len(out.PrimaryKey) == 0 {
		out.PrimaryKey = nil
	}
	if len(out.ForeignKeys) == 0 {
		out.ForeignKeys = nil
	}
	if len(out.Uniques) == 0 {
		out.Uniques = nil
	}
	return out
}

// Encode serializes the snapshot for the _snapshots jsonb column.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot for %s: %w", s.Plugin, err)
	}
	return data, nil
}

// ParseSnapshot decodes a snapshot previously written by Encode.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &s, nil
}
