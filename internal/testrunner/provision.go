package testrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"prodtest/internal/schema"
)

// Provisioned is the state handed from provisioning to reclaiming.
type Provisioned struct {
	Prefix string
	// Original holds every entity's binding from before the first
	// provisioning; reclaiming restores exactly these values.
	Original schema.Bindings
	// Applied holds the prefixed bindings in effect for the run.
	Applied schema.Bindings
	// Existing is the introspected table set the drops were decided from.
	Existing []string

	// scoped is set once a schema-editing scope was opened, i.e. once this
	// run may have touched any table.
	scoped    bool
	reclaimed bool
}

// Provisioner creates a fresh, prefixed copy of every entity table.
type Provisioner struct {
	backend  schema.Backend
	registry *schema.Registry
	logger   *slog.Logger
	active   *Provisioned
}

// NewProvisioner creates a provisioner over the default connection's backend.
func NewProvisioner(backend schema.Backend, registry *schema.Registry, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{backend: backend, registry: registry, logger: logger}
}

// Provision rebinds every entity to prefix + its original table name, drops
// any of those tables left over from an earlier run and creates them fresh
// in one schema-editing scope.
//
// Bindings that already carry prefix (from a repeated or enclosing run, or
// Attach) are not prefixed again. Provisioning with a different prefix
// before the previous state is reclaimed is a ConfigError. The returned
// state is non-nil whenever bindings may have changed, including on error,
// and must be passed to Reclaim.
func (p *Provisioner) Provision(ctx context.Context, prefix string) (state *Provisioned, err error) {
	if prefix == "" {
		return nil, &ConfigError{Message: "table prefix must not be empty"}
	}

	order, err := p.registry.CreationOrder()
	if err != nil {
		return nil, fmt.Errorf("failed to order entities: %w", err)
	}

	if p.active != nil && !p.active.reclaimed && p.active.Prefix != prefix {
		return nil, &ConfigError{Message: fmt.Sprintf(
			"tables provisioned with prefix %q must be reclaimed before provisioning with %q", p.active.Prefix, prefix)}
	}

	// A binding that already equals prefix + canonical table was applied by
	// an earlier or enclosing run; its original is the canonical name.
	current := p.registry.Bindings()
	original := make(schema.Bindings, len(current))
	for _, e := range p.registry.Entities() {
		table := current[e.Name]
		if e.Table != "" && table == prefix+e.Table {
			p.logger.Debug("table binding already prefixed", "entity", e.Name, "table", table)
			table = e.Table
		}
		original[e.Name] = table
	}
	state = &Provisioned{
		Prefix:   prefix,
		Original: original,
		Applied:  original.WithPrefix(prefix),
	}
	p.active = state

	existing, err := p.backend.TableNames(ctx)
	if err != nil {
		return state, &DatabaseError{Op: "introspect", Err: err}
	}
	state.Existing = existing

	if err := p.registry.Apply(state.Applied); err != nil {
		return state, fmt.Errorf("failed to apply prefixed bindings: %w", err)
	}

	editor, err := p.backend.Begin(ctx)
	if err != nil {
		return state, &DatabaseError{Op: "begin", Err: err}
	}
	state.scoped = true
	defer func() {
		if closeErr := editor.Close(ctx); closeErr != nil {
			err = errors.Join(err, &DatabaseError{Op: "close", Err: closeErr})
		}
	}()

	stale := make(map[string]bool, len(existing))
	for _, name := range existing {
		stale[name] = true
	}

	for _, e := range order {
		tbl, err := p.registry.Table(e)
		if err != nil {
			return state, err
		}
		if tbl.Name == "" {
			p.logger.Debug("entity has no table, skipping", "entity", e.Name)
			continue
		}
		if stale[tbl.Name] {
			p.logger.Info("dropping stale table", "table", tbl.Name)
			if err := editor.DropTable(ctx, tbl.Name); err != nil {
				return state, &DatabaseError{Op: "drop", Table: tbl.Name, Err: err}
			}
		}
		if err := editor.CreateTable(ctx, tbl); err != nil {
			return state, &DatabaseError{Op: "create", Table: tbl.Name, Err: err}
		}
		p.logger.Debug("created table", "entity", e.Name, "table", tbl.Name)
	}

	if err := editor.Commit(ctx); err != nil {
		return state, &DatabaseError{Op: "commit", Err: err}
	}

	p.logger.Info("test tables provisioned",
		"prefix", prefix,
		"tables", len(order),
		"stale_dropped", countStale(state.Applied, stale),
		"transactional", p.backend.Transactional(),
	)
	return state, nil
}

func countStale(applied schema.Bindings, stale map[string]bool) int {
	n := 0
	for _, table := range applied {
		if table != "" && stale[table] {
			n++
		}
	}
	return n
}
