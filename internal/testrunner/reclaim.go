package testrunner

import (
	"context"
	"errors"
	"log/slog"

	"prodtest/internal/schema"
)

// Reclaimer removes or keeps the prefixed tables after a run and restores
// the original bindings.
type Reclaimer struct {
	backend    schema.Backend
	registry   *schema.Registry
	keepTables bool
	logger     *slog.Logger
}

// NewReclaimer creates a reclaimer. keepTables is fixed for its lifetime.
func NewReclaimer(backend schema.Backend, registry *schema.Registry, keepTables bool, logger *slog.Logger) *Reclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{backend: backend, registry: registry, keepTables: keepTables, logger: logger}
}

// Reclaim drops the tables recorded in state, children before parents,
// unless tables are kept or provisioning failed before touching any table.
// The original bindings are restored on every path, including when the drop
// fails.
func (r *Reclaimer) Reclaim(ctx context.Context, state *Provisioned) (err error) {
	if state == nil {
		return nil
	}

	defer func() {
		if restoreErr := r.restore(state); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
	}()

	if !state.scoped {
		r.logger.Info("no test tables were provisioned, nothing to drop", "prefix", state.Prefix)
		return nil
	}
	if r.keepTables {
		r.logger.Info("keeping test tables", "prefix", state.Prefix, "tables", len(state.Applied.Tables()))
		return nil
	}
	return r.dropAll(ctx, state)
}

func (r *Reclaimer) dropAll(ctx context.Context, state *Provisioned) (err error) {
	order, err := r.registry.CreationOrder()
	if err != nil {
		return err
	}

	editor, err := r.backend.Begin(ctx)
	if err != nil {
		return &DatabaseError{Op: "begin", Err: err}
	}
	defer func() {
		if closeErr := editor.Close(ctx); closeErr != nil {
			err = errors.Join(err, &DatabaseError{Op: "close", Err: closeErr})
		}
	}()

	dropped := 0
	for i := len(order) - 1; i >= 0; i-- {
		table := state.Applied[order[i].Name]
		if table == "" {
			continue
		}
		if err := editor.DropTable(ctx, table); err != nil {
			return &DatabaseError{Op: "drop", Table: table, Err: err}
		}
		dropped++
	}

	if err := editor.Commit(ctx); err != nil {
		return &DatabaseError{Op: "commit", Err: err}
	}
	r.logger.Info("test tables dropped", "prefix", state.Prefix, "tables", dropped)
	return nil
}

func (r *Reclaimer) restore(state *Provisioned) error {
	if err := r.registry.Apply(state.Original); err != nil {
		return &RestoreError{Err: err}
	}
	state.reclaimed = true
	return nil
}
