package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"prodtest/internal/storage"
)

type sqliteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a schema backend over a SQLite connection.
// SQLite runs DDL inside transactions, so a scope commits as one unit.
func NewSQLiteBackend(db *sql.DB) (Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Type() string        { return storage.TypeSQLite }
func (b *sqliteBackend) Transactional() bool { return true }

func (b *sqliteBackend) TableNames(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (b *sqliteBackend) Begin(ctx context.Context) (Editor, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Stale child tables are dropped after their parents within one scope;
	// checking at commit keeps that legal.
	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to defer foreign keys: %w", err)
	}
	return &sqliteEditor{tx: tx}, nil
}

type sqliteEditor struct {
	tx   *sql.Tx
	done bool
}

func (e *sqliteEditor) CreateTable(ctx context.Context, t Table) error {
	if _, err := e.tx.ExecContext(ctx, sqliteCreateTable(t)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	for i, idx := range t.Entity.Indexes {
		stmt := sqliteCreateIndex(t, i, idx)
		if _, err := e.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index %s: %w", t.IndexName(i), err)
		}
	}
	return nil
}

func (e *sqliteEditor) DropTable(ctx context.Context, name string) error {
	if _, err := e.tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqliteQuote(name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

func (e *sqliteEditor) Commit(_ context.Context) error {
	e.done = true
	if err := e.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema changes: %w", err)
	}
	return nil
}

func (e *sqliteEditor) Close(_ context.Context) error {
	if e.done {
		return nil
	}
	e.done = true
	if err := e.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back schema changes: %w", err)
	}
	return nil
}

func sqliteQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func sqliteColumnType(t ColumnType) string {
	switch t {
	case AutoID:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	case Integer:
		return "INTEGER"
	case JSON:
		return "JSON"
	case Timestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func sqliteCreateTable(t Table) string {
	defs := make([]string, 0, len(t.Entity.Columns))
	for _, c := range t.Entity.Columns {
		def := sqliteQuote(c.Name) + " " + sqliteColumnType(c.Type)
		if c.Type != AutoID && !c.Nullable {
			def += " NOT NULL"
		}
		if fk, ok := t.Refs[c.Name]; ok {
			def += fmt.Sprintf(" REFERENCES %s(%s)", sqliteQuote(fk.Table), sqliteQuote(fk.Column))
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", sqliteQuote(t.Name), strings.Join(defs, ",\n\t"))
}

func sqliteCreateIndex(t Table, i int, idx Index) string {
	cols := make([]string, len(idx.Columns))
	for j, c := range idx.Columns {
		cols[j] = sqliteQuote(c)
	}
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s(%s)", kind, sqliteQuote(t.IndexName(i)), sqliteQuote(t.Name), strings.Join(cols, ", "))
}
