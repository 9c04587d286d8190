package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homefeed/internal/constants"
)

// EnsureIndexes creates the indexes the pipeline relies on. All index
// creation is idempotent; "already exists" errors are ignored.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if err := ensureMessageIndexes(ctx, db.Collection(constants.CollectionIncomingMessages)); err != nil {
		return err
	}
	if err := ensureListingIndexes(ctx, db.Collection(constants.CollectionProperties)); err != nil {
		return err
	}
	return ensureJobIndexes(ctx, db.Collection(constants.CollectionProcessingJobs))
}

func ensureMessageIndexes(ctx context.Context, coll *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "processing.status", Value: 1}, {Key: "first_seen_at", Value: 1}},
			Options: options.Index().SetName("idx_messages_status_first_seen"),
		},
		{
			Keys:    bson.D{{Key: "ingest.message_id", Value: 1}},
			Options: options.Index().SetName("idx_messages_message_id").SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "processing.heartbeat_at", Value: 1}},
			Options: options.Index().SetName("idx_messages_heartbeat"),
		},
	}
	return createIndexes(ctx, coll, indexes)
}

func ensureListingIndexes(ctx context.Context, coll *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_properties_status"),
		},
		{
			Keys:    bson.D{{Key: "address.city", Value: 1}, {Key: "address.state", Value: 1}},
			Options: options.Index().SetName("idx_properties_city_state"),
		},
		{
			Keys:    bson.D{{Key: "deal.category", Value: 1}},
			Options: options.Index().SetName("idx_properties_deal_category"),
		},
		{
			Keys:    bson.D{{Key: "quality.confidence", Value: -1}},
			Options: options.Index().SetName("idx_properties_confidence"),
		},
		{
			Keys:    bson.D{{Key: "provenance.source_message_ids", Value: 1}},
			Options: options.Index().SetName("idx_properties_source_messages"),
		},
		{
			Keys:    bson.D{{Key: "title", Value: "text"}, {Key: "description", Value: "text"}},
			Options: options.Index().SetName("idx_properties_text"),
		},
	}
	return createIndexes(ctx, coll, indexes)
}

func ensureJobIndexes(ctx context.Context, coll *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "started_at", Value: -1}},
			Options: options.Index().SetName("idx_jobs_started_at"),
		},
	}
	return createIndexes(ctx, coll, indexes)
}

func createIndexes(ctx context.Context, coll *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
	}
	return nil
}
