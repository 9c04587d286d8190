package worker

import (
	"time"

	"homefeed/internal/intake"
)

// BatchOptions tune a single run. Zero values fall back to configured
// defaults; the handler clamps caller-supplied values before they get here.
type BatchOptions struct {
	BatchSize   int `json:"batch_size"`
	MaxAttempts int `json:"max_attempts"`
}

// BatchResult aggregates one ProcessPendingBatch run.
type BatchResult struct {
	BatchID          string            `json:"batch_id"`
	Claimed          int               `json:"claimed"`
	Processed        int               `json:"processed"`
	Failed           int               `json:"failed"`
	Retried          int               `json:"retried"`
	Skipped          int               `json:"skipped"`
	ListingsCreated  int               `json:"listings_created"`
	ListingsUpdated  int               `json:"listings_updated"`
	TokenUsage       intake.TokenUsage `json:"token_usage"`
	RemainingPending int64             `json:"remaining_pending"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
}

// ProcessingBatch is the append-only audit record in processing_jobs, one
// document per run.
type ProcessingBatch struct {
	ID               string            `bson:"_id" json:"id"`
	StartedAt        time.Time         `bson:"started_at" json:"started_at"`
	FinishedAt       time.Time         `bson:"finished_at" json:"finished_at"`
	Claimed          int               `bson:"claimed" json:"claimed"`
	Processed        int               `bson:"processed" json:"processed"`
	Failed           int               `bson:"failed" json:"failed"`
	Retried          int               `bson:"retried" json:"retried"`
	Skipped          int               `bson:"skipped" json:"skipped"`
	ListingsCreated  int               `bson:"listings_created" json:"listings_created"`
	ListingsUpdated  int               `bson:"listings_updated" json:"listings_updated"`
	TokenUsage       intake.TokenUsage `bson:"token_usage" json:"token_usage"`
	RemainingPending int64             `bson:"remaining_pending" json:"remaining_pending"`
}
