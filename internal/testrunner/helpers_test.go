package testrunner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"prodtest/internal/schema"
	"prodtest/internal/storage"
)

func widgetEntity() *schema.Entity {
	return &schema.Entity{
		Name:  "Widget",
		Table: "widget",
		Columns: []schema.Column{
			{Name: "id", Type: schema.AutoID},
			{Name: "name", Type: schema.Text},
			{Name: "attrs", Type: schema.JSON, Nullable: true},
		},
		Indexes: []schema.Index{{Columns: []string{"name"}, Unique: true}},
	}
}

func partEntity() *schema.Entity {
	return &schema.Entity{
		Name:  "Part",
		Table: "part",
		Columns: []schema.Column{
			{Name: "id", Type: schema.AutoID},
			{Name: "widget_id", Type: schema.Integer, References: "Widget"},
		},
	}
}

type testEnv struct {
	store    storage.Storage
	backend  schema.Backend
	registry *schema.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLite(storage.SQLiteConfig{Path: storage.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend, err := schema.NewBackend(store)
	require.NoError(t, err)

	registry, err := schema.NewRegistry(partEntity(), widgetEntity())
	require.NoError(t, err)

	return &testEnv{store: store, backend: backend, registry: registry}
}

func (e *testEnv) tables(t *testing.T) []string {
	t.Helper()
	names, err := e.backend.TableNames(context.Background())
	require.NoError(t, err)
	return names
}

func (e *testEnv) exec(t *testing.T, stmt string) {
	t.Helper()
	_, err := e.store.SQLiteDB().Exec(stmt)
	require.NoError(t, err)
}

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.store.SQLiteDB().QueryRow(`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

var errInjected = errors.New("injected failure")

// faultyBackend fails the configured operations and delegates the rest.
type faultyBackend struct {
	schema.Backend
	failTableNames bool
	failCreate     string
	failDrop       string
	closed         int
}

func (b *faultyBackend) TableNames(ctx context.Context) ([]string, error) {
	if b.failTableNames {
		return nil, errInjected
	}
	return b.Backend.TableNames(ctx)
}

func (b *faultyBackend) Begin(ctx context.Context) (schema.Editor, error) {
	ed, err := b.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyEditor{Editor: ed, backend: b}, nil
}

type faultyEditor struct {
	schema.Editor
	backend *faultyBackend
}

func (e *faultyEditor) CreateTable(ctx context.Context, t schema.Table) error {
	if t.Name == e.backend.failCreate {
		return errInjected
	}
	return e.Editor.CreateTable(ctx, t)
}

func (e *faultyEditor) DropTable(ctx context.Context, name string) error {
	if name == e.backend.failDrop {
		return errInjected
	}
	return e.Editor.DropTable(ctx, name)
}

func (e *faultyEditor) Close(ctx context.Context) error {
	e.backend.closed++
	return e.Editor.Close(ctx)
}
