package schema

import (
	"context"
	"fmt"

	"prodtest/internal/storage"
)

// Backend is the schema side of the default connection.
type Backend interface {
	// Type returns the storage type the backend talks to.
	Type() string

	// TableNames lists the tables currently present in the database.
	TableNames(ctx context.Context) ([]string, error)

	// Begin opens a schema-editing scope. The caller must call Close on
	// every path; Close after Commit is a no-op.
	Begin(ctx context.Context) (Editor, error)

	// Transactional reports whether a scope commits its DDL atomically.
	Transactional() bool
}

// Editor issues DDL inside one schema-editing scope.
type Editor interface {
	CreateTable(ctx context.Context, t Table) error
	// DropTable drops the named table. Missing tables are not an error.
	DropTable(ctx context.Context, name string) error
	Commit(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewBackend returns the schema backend for an open storage connection.
func NewBackend(store storage.Storage) (Backend, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}

	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteBackend(store.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLBackend(store.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBBackend(store.MongoDatabase())
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", store.Type())
	}
}
