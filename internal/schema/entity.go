// Package schema is the object-relational layer the test runner drives: it
// owns entity definitions, the entity-to-table bindings, introspection of
// existing tables and a schema-editing scope per storage backend.
package schema

import (
	"fmt"
	"regexp"
)

// ColumnType is a backend-neutral column type.
type ColumnType int

const (
	// AutoID is an auto-incrementing integer primary key.
	AutoID ColumnType = iota
	Integer
	Text
	JSON
	Timestamp
)

func (t ColumnType) String() string {
	switch t {
	case AutoID:
		return "auto_id"
	case Integer:
		return "integer"
	case Text:
		return "text"
	case JSON:
		return "json"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column describes one column of an entity's table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	// References names the entity whose primary key this column points at.
	References string
}

// Index describes a secondary index. Physical index names are derived from
// the bound table name so prefixed tables never collide with the originals.
type Index struct {
	Columns []string
	Unique  bool
}

// Entity is a logical model backed by one physical table.
type Entity struct {
	// Name is the logical model name, e.g. "LogEntry".
	Name string
	// Table is the canonical, unprefixed table name.
	Table   string
	Columns []Column
	Indexes []Index
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the entity definition for structural errors.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if e.Table != "" && !identRe.MatchString(e.Table) {
		return fmt.Errorf("entity %s: invalid table name %q", e.Name, e.Table)
	}
	if len(e.Columns) == 0 {
		return fmt.Errorf("entity %s: at least one column is required", e.Name)
	}

	seen := make(map[string]bool, len(e.Columns))
	pks := 0
	for _, c := range e.Columns {
		if !identRe.MatchString(c.Name) {
			return fmt.Errorf("entity %s: invalid column name %q", e.Name, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("entity %s: duplicate column %s", e.Name, c.Name)
		}
		seen[c.Name] = true
		if c.Type == AutoID {
			pks++
		}
	}
	if pks > 1 {
		return fmt.Errorf("entity %s: at most one auto_id column is allowed", e.Name)
	}

	for _, idx := range e.Indexes {
		if len(idx.Columns) == 0 {
			return fmt.Errorf("entity %s: index without columns", e.Name)
		}
		for _, col := range idx.Columns {
			if !seen[col] {
				return fmt.Errorf("entity %s: index references unknown column %s", e.Name, col)
			}
		}
	}
	return nil
}

// PrimaryKey returns the auto_id column name, or "" if the entity has none.
func (e *Entity) PrimaryKey() string {
	for _, c := range e.Columns {
		if c.Type == AutoID {
			return c.Name
		}
	}
	return ""
}

// References returns the distinct entity names this entity points at,
// in column order.
func (e *Entity) References() []string {
	var refs []string
	seen := make(map[string]bool)
	for _, c := range e.Columns {
		if c.References != "" && !seen[c.References] {
			seen[c.References] = true
			refs = append(refs, c.References)
		}
	}
	return refs
}
