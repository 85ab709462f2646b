package logentry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"prodtest/internal/schema"
)

// Four columns per row keeps a chunk well under SQLite's 999 parameter limit.
const maxEntriesPerBatch = 200

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db       *sql.DB
	registry *schema.Registry
}

// NewSQLiteStore creates a SQLite log entry store.
func NewSQLiteStore(db *sql.DB, registry *schema.Registry) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStore{db: db, registry: registry}, nil
}

func (s *SQLiteStore) table() string {
	return `"` + strings.ReplaceAll(s.registry.TableName(EntityName), `"`, `""`) + `"`
}

func (s *SQLiteStore) Insert(ctx context.Context, entry *LogEntry) error {
	prepare([]*LogEntry{entry})
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.table()+` (body, created, updated) VALUES (?, ?, ?)`,
		nullableBody(entry.Body), entry.Created, entry.Updated)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read log entry id: %w", err)
	}
	entry.ID = strconv.FormatInt(id, 10)
	return nil
}

func (s *SQLiteStore) BulkCreate(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	prepare(entries)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	table := s.table()
	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := min(i+maxEntriesPerBatch, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*3)
		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?)"
			values = append(values, nullableBody(e.Body), e.Created, e.Updated)
		}
		query := `INSERT INTO ` + table + ` (body, created, updated) VALUES ` + strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert %d log entries: %w", len(chunk), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit log entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, created, updated FROM `+s.table()+` ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		var (
			id      int64
			body    sql.NullString
			created time.Time
			updated sql.NullTime
		)
		if err := rows.Scan(&id, &body, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e := &LogEntry{ID: strconv.FormatInt(id, 10), Created: created}
		if body.Valid {
			e.Body = json.RawMessage(body.String)
		}
		if updated.Valid {
			e.Updated = &updated.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
