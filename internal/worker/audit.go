package worker

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homefeed/internal/constants"
)

type AuditRepository interface {
	Record(ctx context.Context, batch ProcessingBatch) error
	Recent(ctx context.Context, limit int) ([]ProcessingBatch, error)
}

type MongoAuditRepository struct {
	coll *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *MongoAuditRepository {
	return &MongoAuditRepository{coll: db.Collection(constants.CollectionProcessingJobs)}
}

func (r *MongoAuditRepository) Record(ctx context.Context, batch ProcessingBatch) error {
	if _, err := r.coll.InsertOne(ctx, batch); err != nil {
		return fmt.Errorf("failed to record processing batch %s: %w", batch.ID, err)
	}
	return nil
}

func (r *MongoAuditRepository) Recent(ctx context.Context, limit int) ([]ProcessingBatch, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing batches: %w", err)
	}
	defer cursor.Close(ctx)

	batches := []ProcessingBatch{}
	if err := cursor.All(ctx, &batches); err != nil {
		return nil, fmt.Errorf("failed to decode processing batches: %w", err)
	}
	return batches, nil
}
