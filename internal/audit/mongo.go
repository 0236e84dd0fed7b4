package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"devpulse/pkg/models"
)

const DefaultCollection = "audit_records"

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoStore{collection: db.Collection(collection)}
}

func (s *MongoStore) Append(ctx context.Context, r models.AuditRecord) error {
	start := time.Now()
	_, err := s.collection.InsertOne(ctx, r)
	observe("mongodb", "insert", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

func (s *MongoStore) Query(ctx context.Context, f Filter) ([]models.AuditRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	start := time.Now()
	cursor, err := s.collection.Find(ctx, mongoFilter(f), opts)
	observe("mongodb", "find", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer cursor.Close(ctx)

	records := make([]models.AuditRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode audit records: %w", err)
	}
	return records, nil
}

func mongoFilter(f Filter) bson.M {
	filter := bson.M{}
	set := func(field, value string) {
		if value != "" {
			filter[field] = value
		}
	}
	set("event_id", f.EventID)
	set("entity_key", f.EntityKey)
	set("delivery_id", f.DeliveryID)
	set("provider", f.Provider)
	set("target", f.Target)
	set("kind", string(f.Kind))
	set("outcome", f.Outcome)

	if !f.From.IsZero() || !f.To.IsZero() {
		window := bson.M{}
		if !f.From.IsZero() {
			window["$gte"] = f.From
		}
		if !f.To.IsZero() {
			window["$lt"] = f.To
		}
		filter["recorded_at"] = window
	}
	return filter
}
