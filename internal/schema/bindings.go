package schema

import "sort"

// Bindings maps entity names to physical table names.
type Bindings map[string]string

// Clone returns an independent copy.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// WithPrefix returns a new mapping with prefix prepended to every non-empty
// table name. The receiver is not modified.
func (b Bindings) WithPrefix(prefix string) Bindings {
	out := make(Bindings, len(b))
	for entity, table := range b {
		if table == "" {
			out[entity] = table
			continue
		}
		out[entity] = prefix + table
	}
	return out
}

// Tables returns the bound table names in sorted order.
func (b Bindings) Tables() []string {
	tables := make([]string, 0, len(b))
	for _, t := range b {
		if t != "" {
			tables = append(tables, t)
		}
	}
	sort.Strings(tables)
	return tables
}
