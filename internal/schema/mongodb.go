package schema

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"prodtest/internal/storage"
)

type mongoBackend struct {
	database *mongo.Database
}

// NewMongoDBBackend creates a schema backend over a MongoDB database.
// Collections stand in for tables; columns are not enforced, indexes are.
// MongoDB has no transactional DDL, so a scope applies statements as issued.
func NewMongoDBBackend(database *mongo.Database) (Backend, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &mongoBackend{database: database}, nil
}

func (b *mongoBackend) Type() string        { return storage.TypeMongoDB }
func (b *mongoBackend) Transactional() bool { return false }

func (b *mongoBackend) TableNames(ctx context.Context) ([]string, error) {
	names, err := b.database.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (b *mongoBackend) Begin(_ context.Context) (Editor, error) {
	return &mongoEditor{database: b.database}, nil
}

type mongoEditor struct {
	database *mongo.Database
}

func (e *mongoEditor) CreateTable(ctx context.Context, t Table) error {
	if err := e.database.CreateCollection(ctx, t.Name); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", t.Name, err)
	}

	if len(t.Entity.Indexes) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, 0, len(t.Entity.Indexes))
	for i, idx := range t.Entity.Indexes {
		keys := bson.D{}
		for _, c := range idx.Columns {
			keys = append(keys, bson.E{Key: c, Value: 1})
		}
		opts := options.Index().SetName(t.IndexName(i))
		if idx.Unique {
			opts.SetUnique(true)
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	if _, err := e.database.Collection(t.Name).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", t.Name, err)
	}
	return nil
}

func (e *mongoEditor) DropTable(ctx context.Context, name string) error {
	if err := e.database.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

func (e *mongoEditor) Commit(_ context.Context) error { return nil }
func (e *mongoEditor) Close(_ context.Context) error  { return nil }
