package intake

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homefeed/internal/constants"
)

// UpsertResult reports whether an ingested message created a new record or
// refreshed an existing one.
type UpsertResult struct {
	Inserted bool
}

type Repository interface {
	Upsert(ctx context.Context, msg NormalizedMessage, now time.Time) (UpsertResult, error)
	ClaimNext(ctx context.Context, batchID string, maxAttempts int, claimTimeout time.Duration, now time.Time) (*RawMessage, error)
	Heartbeat(ctx context.Context, dedupeKey string, now time.Time) error
	MarkProcessed(ctx context.Context, dedupeKey string, listingCount int, usage TokenUsage, now time.Time) error
	MarkRetry(ctx context.Context, dedupeKey string, cause string) error
	MarkFailed(ctx context.Context, dedupeKey string, cause string, now time.Time) error
	CountPending(ctx context.Context) (int64, error)
	Get(ctx context.Context, dedupeKey string) (*RawMessage, error)
}

type MongoRepository struct {
	coll *mongo.Collection
}

func NewRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(constants.CollectionIncomingMessages)}
}

// Upsert stores a message if its dedupe key is new; a redelivery only
// refreshes last_seen_at and never resets processing state.
func (r *MongoRepository) Upsert(ctx context.Context, msg NormalizedMessage, now time.Time) (UpsertResult, error) {
	// Leave message_id out entirely when the provider sent none, so the
	// sparse unique index never sees two empty values.
	ingest := bson.M{"provider": msg.Provider}
	if msg.MessageID != "" {
		ingest["message_id"] = msg.MessageID
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"ingest":        ingest,
			"text":          msg.Text,
			"media":         msg.Media,
			"sender":        msg.Sender,
			"raw":           msg.Raw,
			"received_at":   msg.ReceivedAt,
			"first_seen_at": now,
			"processing": bson.M{
				"status":        StatusPending,
				"attempts":      0,
				"listing_count": 0,
				"token_usage":   TokenUsage{},
			},
		},
		"$set": bson.M{
			"last_seen_at": now,
		},
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": msg.DedupeKey}, update, options.Update().SetUpsert(true))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to upsert message %s: %w", msg.DedupeKey, err)
	}
	return UpsertResult{Inserted: res.UpsertedCount > 0}, nil
}

// ClaimNext atomically claims the oldest eligible message for batchID.
// Eligible means pending, or processing with a heartbeat older than the
// claim timeout, and under the attempt cap. Returns (nil, nil) when the
// queue is drained.
func (r *MongoRepository) ClaimNext(ctx context.Context, batchID string, maxAttempts int, claimTimeout time.Duration, now time.Time) (*RawMessage, error) {
	staleBefore := now.Add(-claimTimeout)

	filter := bson.M{
		"processing.attempts": bson.M{"$lt": maxAttempts},
		"$or": []bson.M{
			{"processing.status": StatusPending},
			{
				"processing.status":       StatusProcessing,
				"processing.heartbeat_at": bson.M{"$lt": staleBefore},
			},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"processing.status":          StatusProcessing,
			"processing.claimed_at":      now,
			"processing.heartbeat_at":    now,
			"processing.worker_batch_id": batchID,
		},
		"$inc": bson.M{"processing.attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "first_seen_at", Value: 1}}).
		SetReturnDocument(options.After)

	var claimed RawMessage
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&claimed)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim message: %w", err)
	}
	return &claimed, nil
}

func (r *MongoRepository) Heartbeat(ctx context.Context, dedupeKey string, now time.Time) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": dedupeKey, "processing.status": StatusProcessing},
		bson.M{"$set": bson.M{"processing.heartbeat_at": now}},
	)
	if err != nil {
		return fmt.Errorf("failed to heartbeat message %s: %w", dedupeKey, err)
	}
	return nil
}

func (r *MongoRepository) MarkProcessed(ctx context.Context, dedupeKey string, listingCount int, usage TokenUsage, now time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"processing.status":        StatusProcessed,
			"processing.processed_at":  now,
			"processing.listing_count": listingCount,
			"processing.token_usage":   usage,
			"processing.last_error":    "",
		},
		"$unset": bson.M{
			"processing.claimed_at":   "",
			"processing.heartbeat_at": "",
		},
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": dedupeKey}, update)
	if err != nil {
		return fmt.Errorf("failed to mark message %s processed: %w", dedupeKey, err)
	}
	return nil
}

// MarkRetry releases the claim and returns the message to the pending pool.
// Attempts stay incremented, so the cap still applies on the next claim.
func (r *MongoRepository) MarkRetry(ctx context.Context, dedupeKey string, cause string) error {
	update := bson.M{
		"$set": bson.M{
			"processing.status":     StatusPending,
			"processing.last_error": cause,
		},
		"$unset": bson.M{
			"processing.claimed_at":      "",
			"processing.heartbeat_at":    "",
			"processing.worker_batch_id": "",
		},
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": dedupeKey}, update)
	if err != nil {
		return fmt.Errorf("failed to release message %s for retry: %w", dedupeKey, err)
	}
	return nil
}

func (r *MongoRepository) MarkFailed(ctx context.Context, dedupeKey string, cause string, now time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"processing.status":       StatusFailed,
			"processing.last_error":   cause,
			"processing.processed_at": now,
		},
		"$unset": bson.M{
			"processing.claimed_at":   "",
			"processing.heartbeat_at": "",
		},
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": dedupeKey}, update)
	if err != nil {
		return fmt.Errorf("failed to mark message %s failed: %w", dedupeKey, err)
	}
	return nil
}

func (r *MongoRepository) CountPending(ctx context.Context) (int64, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{"processing.status": StatusPending})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return count, nil
}

func (r *MongoRepository) Get(ctx context.Context, dedupeKey string) (*RawMessage, error) {
	var msg RawMessage
	err := r.coll.FindOne(ctx, bson.M{"_id": dedupeKey}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", dedupeKey, err)
	}
	return &msg, nil
}
