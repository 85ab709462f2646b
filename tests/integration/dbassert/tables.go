//go:build integration

// Package dbassert provides database state assertions for integration tests.
package dbassert

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

func queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// PostgreSQLTableExists reports whether table exists in the current schema.
func PostgreSQLTableExists(t *testing.T, pool *pgxpool.Pool, table string) bool {
	t.Helper()
	ctx, cancel := queryContext()
	defer cancel()

	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`,
		table).Scan(&exists)
	require.NoError(t, err, "failed to query pg_tables")
	return exists
}

// PostgreSQLRowCount returns the number of rows in table.
func PostgreSQLRowCount(t *testing.T, pool *pgxpool.Pool, table string) int64 {
	t.Helper()
	ctx, cancel := queryContext()
	defer cancel()

	var n int64
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgx.Identifier{table}.Sanitize()).Scan(&n)
	require.NoError(t, err, "failed to count rows in %s", table)
	return n
}

// PostgreSQLIndexes returns the index names defined on table.
func PostgreSQLIndexes(t *testing.T, pool *pgxpool.Pool, table string) []string {
	t.Helper()
	ctx, cancel := queryContext()
	defer cancel()

	rows, err := pool.Query(ctx,
		`SELECT indexname FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1 ORDER BY indexname`,
		table)
	require.NoError(t, err, "failed to query pg_indexes")
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	require.NoError(t, err, "failed to scan pg_indexes")
	return names
}

// MongoCollectionExists reports whether the collection exists.
func MongoCollectionExists(t *testing.T, db *mongo.Database, name string) bool {
	t.Helper()
	ctx, cancel := queryContext()
	defer cancel()

	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	require.NoError(t, err, "failed to list collections")
	return len(names) == 1
}

// MongoIndexes returns the index names defined on the collection.
func MongoIndexes(t *testing.T, db *mongo.Database, name string) []string {
	t.Helper()
	ctx, cancel := queryContext()
	defer cancel()

	specs, err := db.Collection(name).Indexes().ListSpecifications(ctx)
	require.NoError(t, err, "failed to list indexes")
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

// AssertTablePresence checks the table exists exactly when want is true,
// on whichever backend is non-nil.
func AssertTablePresence(t *testing.T, pool *pgxpool.Pool, db *mongo.Database, table string, want bool) {
	t.Helper()
	var got bool
	switch {
	case pool != nil:
		got = PostgreSQLTableExists(t, pool, table)
	case db != nil:
		got = MongoCollectionExists(t, db, table)
	default:
		t.Fatal("no database handle")
	}
	assert.Equal(t, want, got, "presence of table %s", table)
}
