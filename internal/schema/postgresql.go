package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"prodtest/internal/storage"
)

// maxIdentifierLength is PostgreSQL's NAMEDATALEN-1. Longer identifiers are
// truncated by the server, so they would never match an introspected name.
const maxIdentifierLength = 63

func checkIdentifier(kind, name string) error {
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("%s name %q is %d bytes, PostgreSQL allows at most %d", kind, name, len(name), maxIdentifierLength)
	}
	return nil
}

type postgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLBackend creates a schema backend over a PostgreSQL pool.
// Tables live in the connection's current schema.
func NewPostgreSQLBackend(pool *pgxpool.Pool) (Backend, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Type() string        { return storage.TypePostgreSQL }
func (b *postgresBackend) Transactional() bool { return true }

func (b *postgresBackend) TableNames(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = current_schema() ORDER BY tablename`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan table names: %w", err)
	}
	return names, nil
}

func (b *postgresBackend) Begin(ctx context.Context) (Editor, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresEditor{tx: tx}, nil
}

type postgresEditor struct {
	tx   pgx.Tx
	done bool
}

func (e *postgresEditor) CreateTable(ctx context.Context, t Table) error {
	if err := checkIdentifier("table", t.Name); err != nil {
		return err
	}
	for i := range t.Entity.Indexes {
		if err := checkIdentifier("index", t.IndexName(i)); err != nil {
			return err
		}
	}
	if _, err := e.tx.Exec(ctx, postgresCreateTable(t)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	for i, idx := range t.Entity.Indexes {
		if _, err := e.tx.Exec(ctx, postgresCreateIndex(t, i, idx)); err != nil {
			return fmt.Errorf("failed to create index %s: %w", t.IndexName(i), err)
		}
	}
	return nil
}

// DropTable cascades so that foreign keys held by stale tables do not block
// the drop; those tables are recreated in the same scope.
func (e *postgresEditor) DropTable(ctx context.Context, name string) error {
	if err := checkIdentifier("table", name); err != nil {
		return err
	}
	if _, err := e.tx.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" CASCADE"); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

func (e *postgresEditor) Commit(ctx context.Context) error {
	e.done = true
	if err := e.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit schema changes: %w", err)
	}
	return nil
}

func (e *postgresEditor) Close(ctx context.Context) error {
	if e.done {
		return nil
	}
	e.done = true
	if err := e.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back schema changes: %w", err)
	}
	return nil
}

func postgresColumnType(t ColumnType) string {
	switch t {
	case AutoID:
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	case Integer:
		return "BIGINT"
	case JSON:
		return "JSONB"
	case Timestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func postgresCreateTable(t Table) string {
	defs := make([]string, 0, len(t.Entity.Columns))
	for _, c := range t.Entity.Columns {
		def := pgx.Identifier{c.Name}.Sanitize() + " " + postgresColumnType(c.Type)
		if c.Type != AutoID && !c.Nullable {
			def += " NOT NULL"
		}
		if fk, ok := t.Refs[c.Name]; ok {
			def += fmt.Sprintf(" REFERENCES %s(%s)", pgx.Identifier{fk.Table}.Sanitize(), pgx.Identifier{fk.Column}.Sanitize())
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", pgx.Identifier{t.Name}.Sanitize(), strings.Join(defs, ",\n\t"))
}

func postgresCreateIndex(t Table, i int, idx Index) string {
	cols := make([]string, len(idx.Columns))
	for j, c := range idx.Columns {
		cols[j] = pgx.Identifier{c}.Sanitize()
	}
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s(%s)", kind,
		pgx.Identifier{t.IndexName(i)}.Sanitize(), pgx.Identifier{t.Name}.Sanitize(), strings.Join(cols, ", "))
}
