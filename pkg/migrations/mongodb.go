package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureAuditIndexes creates the indexes backing the audit queries. The
// collection itself is created on first insert.
func EnsureAuditIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_audit_records_event_id"),
		},
		{
			Keys:    bson.D{{Key: "entity_key", Value: 1}, {Key: "recorded_at", Value: 1}},
			Options: options.Index().SetName("idx_audit_records_entity_key_recorded_at"),
		},
		{
			Keys:    bson.D{{Key: "recorded_at", Value: 1}},
			Options: options.Index().SetName("idx_audit_records_recorded_at"),
		},
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "outcome", Value: 1}},
			Options: options.Index().SetName("idx_audit_records_kind_outcome"),
		},
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "delivery_id", Value: 1}},
			Options: options.Index().SetName("idx_audit_records_provider_delivery_id"),
		},
	}

	_, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}
