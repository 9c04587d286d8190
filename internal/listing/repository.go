package listing

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homefeed/internal/constants"
	"homefeed/pkg/metrics"
)

type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

type SearchFilter struct {
	Query         string
	City          string
	State         string
	Category      string
	Status        string
	MinConfidence float64
	Limit         int
	Offset        int
}

type SearchResult struct {
	Listings []ListingRecord `json:"listings"`
	Total    int64           `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

type Repository interface {
	Upsert(ctx context.Context, rec ListingRecord, sourceMessageID string, now time.Time) (UpsertOutcome, error)
	Search(ctx context.Context, filter SearchFilter) (*SearchResult, error)
	Get(ctx context.Context, id string) (*ListingRecord, error)
}

type MongoRepository struct {
	coll *mongo.Collection
}

func NewRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(constants.CollectionProperties)}
}

// Upsert writes the canonical record keyed by its derived identity. The
// source message reference is added to the provenance set without
// duplicates, and created_at survives re-processing.
func (r *MongoRepository) Upsert(ctx context.Context, rec ListingRecord, sourceMessageID string, now time.Time) (UpsertOutcome, error) {
	update := bson.M{
		"$set": bson.M{
			"title":                 rec.Title,
			"description":           rec.Description,
			"property":              rec.Property,
			"address":               rec.Address,
			"deal":                  rec.Deal,
			"contact":               rec.Contact,
			"quality":               rec.Quality,
			"audit":                 rec.Audit,
			"provenance.dedupe_key": rec.Provenance.DedupeKey,
			"provenance.ordinal":    rec.Provenance.Ordinal,
			"status":                rec.Status,
			"updated_at":            now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
		"$addToSet": bson.M{
			"provenance.source_message_ids": sourceMessageID,
		},
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": rec.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		metrics.ListingUpsertsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to upsert listing %s: %w", rec.ID, err)
	}
	if res.UpsertedCount > 0 {
		metrics.ListingUpsertsTotal.WithLabelValues("created").Inc()
		return OutcomeCreated, nil
	}
	metrics.ListingUpsertsTotal.WithLabelValues("updated").Inc()
	return OutcomeUpdated, nil
}

func (r *MongoRepository) Search(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	query := bson.M{}
	if filter.Query != "" {
		query["$text"] = bson.M{"$search": filter.Query}
	}
	if filter.City != "" {
		query["address.city"] = filter.City
	}
	if filter.State != "" {
		query["address.state"] = filter.State
	}
	if filter.Category != "" {
		query["deal.category"] = filter.Category
	}
	status := filter.Status
	if status == "" {
		status = string(StatusActive)
	}
	query["status"] = status
	if filter.MinConfidence > 0 {
		query["quality.confidence"] = bson.M{"$gte": filter.MinConfidence}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultSearchLimit
	}
	if limit > constants.MaxSearchLimit {
		limit = constants.MaxSearchLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	total, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "quality.confidence", Value: -1}, {Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}
	defer cursor.Close(ctx)

	listings := []ListingRecord{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode listings: %w", err)
	}

	return &SearchResult{
		Listings: listings,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*ListingRecord, error) {
	var rec ListingRecord
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", id, err)
	}
	return &rec, nil
}
