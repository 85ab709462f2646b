// Package logentry defines the LogEntry entity and its stores. Every store
// resolves its table through the schema registry, so it follows whatever
// binding the test runner has applied.
package logentry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"prodtest/internal/schema"
	"prodtest/internal/storage"
)

// EntityName is the logical name LogEntry is registered under.
const EntityName = "LogEntry"

// Entity returns the schema definition of the log_entry table.
func Entity() *schema.Entity {
	return &schema.Entity{
		Name:  EntityName,
		Table: "log_entry",
		Columns: []schema.Column{
			{Name: "id", Type: schema.AutoID},
			{Name: "body", Type: schema.JSON, Nullable: true},
			{Name: "created", Type: schema.Timestamp},
			{Name: "updated", Type: schema.Timestamp, Nullable: true},
		},
		Indexes: []schema.Index{{Columns: []string{"created"}}},
	}
}

// LogEntry is one logged JSON document.
type LogEntry struct {
	ID      string          `json:"id"`
	Body    json.RawMessage `json:"body,omitempty"`
	Created time.Time       `json:"created"`
	Updated *time.Time      `json:"updated,omitempty"`
}

// New builds an entry whose body is v encoded as JSON.
func New(v any) (*LogEntry, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode log entry body: %w", err)
	}
	return &LogEntry{Body: body}, nil
}

// Store persists log entries.
type Store interface {
	// Insert stores one entry and sets its ID and Created time.
	Insert(ctx context.Context, entry *LogEntry) error

	// BulkCreate stores all entries in one round trip where the backend allows.
	BulkCreate(ctx context.Context, entries []*LogEntry) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// List returns up to limit entries in insertion order. A limit of zero
	// or less returns no entries.
	List(ctx context.Context, limit int) ([]*LogEntry, error)
}

// NewStore returns the store for the given storage backend.
func NewStore(store storage.Storage, registry *schema.Registry) (Store, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if _, ok := registry.Entity(EntityName); !ok {
		return nil, fmt.Errorf("entity %s is not registered", EntityName)
	}

	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), registry)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(store.PostgreSQLPool(), registry)
	case storage.TypeMongoDB:
		return NewMongoDBStore(store.MongoDatabase(), registry)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

func prepare(entries []*LogEntry) {
	now := time.Now().UTC()
	for _, e := range entries {
		if e.Created.IsZero() {
			e.Created = now
		}
	}
}

func nullableBody(body json.RawMessage) any {
	if len(body) == 0 {
		return nil
	}
	return string(body)
}
