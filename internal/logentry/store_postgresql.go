package logentry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"prodtest/internal/schema"
)

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool     *pgxpool.Pool
	registry *schema.Registry
}

// NewPostgreSQLStore creates a PostgreSQL log entry store.
func NewPostgreSQLStore(pool *pgxpool.Pool, registry *schema.Registry) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLStore{pool: pool, registry: registry}, nil
}

func (s *PostgreSQLStore) tableName() string {
	return s.registry.TableName(EntityName)
}

func jsonbValue(body json.RawMessage) any {
	if len(body) == 0 {
		return nil
	}
	return []byte(body)
}

func (s *PostgreSQLStore) Insert(ctx context.Context, entry *LogEntry) error {
	prepare([]*LogEntry{entry})
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgx.Identifier{s.tableName()}.Sanitize()+` (body, created, updated) VALUES ($1, $2, $3) RETURNING id`,
		jsonbValue(entry.Body), entry.Created, entry.Updated,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	entry.ID = strconv.FormatInt(id, 10)
	return nil
}

// BulkCreate uses the COPY protocol.
func (s *PostgreSQLStore) BulkCreate(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	prepare(entries)

	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{s.tableName()},
		[]string{"body", "created", "updated"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{jsonbValue(e.Body), e.Created, e.Updated}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy log entries: %w", err)
	}
	if int(n) != len(entries) {
		return fmt.Errorf("copied %d of %d log entries", n, len(entries))
	}
	return nil
}

func (s *PostgreSQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgx.Identifier{s.tableName()}.Sanitize()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}
	return n, nil
}

func (s *PostgreSQLStore) List(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, body, created, updated FROM `+pgx.Identifier{s.tableName()}.Sanitize()+` ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*LogEntry, error) {
		var (
			id      int64
			body    []byte
			created time.Time
			updated *time.Time
		)
		if err := row.Scan(&id, &body, &created, &updated); err != nil {
			return nil, err
		}
		return &LogEntry{ID: strconv.FormatInt(id, 10), Body: body, Created: created, Updated: updated}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan log entries: %w", err)
	}
	return entries, nil
}
