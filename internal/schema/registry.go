package schema

import (
	"fmt"
	"strings"
	"sync"
)

// ForeignKey is a resolved reference to another entity's bound table.
type ForeignKey struct {
	Table  string
	Column string
}

// Table is an entity together with the physical names it is currently bound to.
type Table struct {
	Name   string
	Entity *Entity
	// Refs maps a referencing column to the table and column it points at.
	Refs map[string]ForeignKey
}

// IndexName returns the physical name of the i-th index of the table.
func (t Table) IndexName(i int) string {
	idx := t.Entity.Indexes[i]
	kind := "idx"
	if idx.Unique {
		kind = "uniq"
	}
	return kind + "_" + t.Name + "_" + strings.Join(idx.Columns, "_")
}

// Registry holds the known entities in declaration order and their current
// table bindings. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entities []*Entity
	byName   map[string]*Entity
	bindings Bindings
}

// NewRegistry creates a registry and registers the given entities in order.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]*Entity),
		bindings: make(Bindings),
	}
	for _, e := range entities {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an entity bound to its canonical table name.
func (r *Registry) Register(e *Entity) error {
	if e == nil {
		return fmt.Errorf("entity is required")
	}
	if err := e.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[e.Name]; exists {
		return fmt.Errorf("entity %s already registered", e.Name)
	}
	r.entities = append(r.entities, e)
	r.byName[e.Name] = e
	r.bindings[e.Name] = e.Table
	return nil
}

// Entities returns all entities in declaration order.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

// Entity looks up an entity by name.
func (r *Registry) Entity(name string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// TableName returns the table the named entity is currently bound to.
func (r *Registry) TableName(entity string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[entity]
}

// Bindings returns a snapshot of the current bindings.
func (r *Registry) Bindings() Bindings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings.Clone()
}

// Apply rebinds every entity named in b. Unknown entities are rejected and
// nothing is changed.
func (r *Registry) Apply(b Bindings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for entity := range b {
		if _, ok := r.byName[entity]; !ok {
			return fmt.Errorf("unknown entity %s", entity)
		}
	}
	for entity, table := range b {
		r.bindings[entity] = table
	}
	return nil
}

// Table resolves an entity and its foreign keys against the current bindings.
func (r *Registry) Table(e *Entity) (Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := Table{Name: r.bindings[e.Name], Entity: e}
	for _, c := range e.Columns {
		if c.References == "" {
			continue
		}
		target, ok := r.byName[c.References]
		if !ok {
			return Table{}, fmt.Errorf("entity %s: column %s references unknown entity %s", e.Name, c.Name, c.References)
		}
		pk := target.PrimaryKey()
		if pk == "" {
			return Table{}, fmt.Errorf("entity %s: referenced entity %s has no primary key", e.Name, target.Name)
		}
		if t.Refs == nil {
			t.Refs = make(map[string]ForeignKey)
		}
		t.Refs[c.Name] = ForeignKey{Table: r.bindings[target.Name], Column: pk}
	}
	return t, nil
}

// CreationOrder returns the entities ordered so that every entity follows the
// entities it references. Ties keep declaration order. Reference cycles are
// an error.
func (r *Registry) CreationOrder() ([]*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := make(map[string]int, len(r.entities))
	dependents := make(map[string][]string)
	for _, e := range r.entities {
		for _, ref := range e.References() {
			if _, ok := r.byName[ref]; !ok {
				return nil, fmt.Errorf("entity %s references unknown entity %s", e.Name, ref)
			}
			if ref == e.Name {
				continue
			}
			pending[e.Name]++
			dependents[ref] = append(dependents[ref], e.Name)
		}
	}

	order := make([]*Entity, 0, len(r.entities))
	done := make(map[string]bool, len(r.entities))
	for len(order) < len(r.entities) {
		progressed := false
		for _, e := range r.entities {
			if done[e.Name] || pending[e.Name] > 0 {
				continue
			}
			done[e.Name] = true
			order = append(order, e)
			for _, d := range dependents[e.Name] {
				pending[d]--
			}
			progressed = true
			break
		}
		if !progressed {
			var cyclic []string
			for _, e := range r.entities {
				if !done[e.Name] {
					cyclic = append(cyclic, e.Name)
				}
			}
			return nil, fmt.Errorf("reference cycle between entities: %s", strings.Join(cyclic, ", "))
		}
	}
	return order, nil
}
