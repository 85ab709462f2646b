package logentry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"prodtest/internal/schema"
)

// MongoDBStore implements Store for MongoDB. Bodies are kept as JSON text so
// they round-trip byte for byte.
type MongoDBStore struct {
	database *mongo.Database
	registry *schema.Registry
}

type mongoLogEntry struct {
	ID      string     `bson:"_id"`
	Body    *string    `bson:"body"`
	Created time.Time  `bson:"created"`
	Updated *time.Time `bson:"updated"`
}

// NewMongoDBStore creates a MongoDB log entry store.
func NewMongoDBStore(database *mongo.Database, registry *schema.Registry) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBStore{database: database, registry: registry}, nil
}

func (s *MongoDBStore) collection() *mongo.Collection {
	return s.database.Collection(s.registry.TableName(EntityName))
}

// toMongo assigns a version 7 UUID when the entry has none. Those are
// time-ordered and monotonic within the process, so sorting by _id yields
// insertion order even inside one InsertMany.
func toMongo(e *LogEntry) (mongoLogEntry, error) {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return mongoLogEntry{}, fmt.Errorf("failed to generate log entry id: %w", err)
		}
		e.ID = id.String()
	}
	doc := mongoLogEntry{ID: e.ID, Created: e.Created, Updated: e.Updated}
	if len(e.Body) > 0 {
		body := string(e.Body)
		doc.Body = &body
	}
	return doc, nil
}

func (s *MongoDBStore) Insert(ctx context.Context, entry *LogEntry) error {
	prepare([]*LogEntry{entry})
	doc, err := toMongo(entry)
	if err != nil {
		return err
	}
	if _, err := s.collection().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	return nil
}

func (s *MongoDBStore) BulkCreate(ctx context.Context, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	prepare(entries)

	docs := make([]any, len(entries))
	for i, e := range entries {
		doc, err := toMongo(e)
		if err != nil {
			return err
		}
		docs[i] = doc
	}
	if _, err := s.collection().InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert %d log entries: %w", len(entries), err)
	}
	return nil
}

func (s *MongoDBStore) Count(ctx context.Context) (int64, error) {
	n, err := s.collection().CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count log entries: %w", err)
	}
	return n, nil
}

func (s *MongoDBStore) List(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := s.collection().Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoLogEntry
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode log entries: %w", err)
	}

	out := make([]*LogEntry, len(docs))
	for i, d := range docs {
		e := &LogEntry{ID: d.ID, Created: d.Created, Updated: d.Updated}
		if d.Body != nil {
			e.Body = json.RawMessage(*d.Body)
		}
		out[i] = e
	}
	return out, nil
}
