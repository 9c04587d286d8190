package worker

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"homefeed/internal/config"
	"homefeed/internal/constants"
	"homefeed/internal/events"
	"homefeed/internal/extraction"
	"homefeed/internal/intake"
	"homefeed/internal/listing"
	"homefeed/internal/logger"
	"homefeed/pkg/errors"
	"homefeed/pkg/metrics"
	"homefeed/pkg/tracing"
)

// Service drives the claim-based processing loop. Each run claims up to
// batchSize messages one at a time, processes them sequentially, and records
// an audit document. One message's failure is contained; only a store
// failure during claiming aborts the run.
type Service struct {
	messages  intake.Repository
	listings  listing.Repository
	extractor extraction.Extractor
	audit     AuditRepository
	publisher events.Publisher
	cfg       config.WorkerConfig
	logger    logger.Logger
	clock     func() time.Time
}

func NewService(
	messages intake.Repository,
	listings listing.Repository,
	extractor extraction.Extractor,
	audit AuditRepository,
	publisher events.Publisher,
	cfg config.WorkerConfig,
	log logger.Logger,
) *Service {
	return &Service{
		messages:  messages,
		listings:  listings,
		extractor: extractor,
		audit:     audit,
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
		clock:     time.Now,
	}
}

// ProcessPendingBatch runs one batch. Claiming and per-message processing
// are strictly sequential; concurrency safety comes from the atomic claim,
// not from locking, so any number of workers can run this concurrently
// without double-processing.
func (s *Service) ProcessPendingBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	ctx, span := tracing.GetTracer("intake-service").Start(ctx, "worker.process_pending_batch")
	defer span.End()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	claimTimeout := time.Duration(s.cfg.ClaimTimeoutSeconds) * time.Second
	if claimTimeout <= 0 {
		claimTimeout = constants.DefaultClaimTimeout
	}

	result := &BatchResult{
		BatchID:   uuid.New().String(),
		StartedAt: s.clock().UTC(),
	}
	s.logger.InfowCtx(ctx, "Processing batch started",
		"batch_id", result.BatchID,
		"batch_size", batchSize,
		"max_attempts", maxAttempts,
	)

	for result.Claimed < batchSize {
		msg, err := s.messages.ClaimNext(ctx, result.BatchID, maxAttempts, claimTimeout, s.clock().UTC())
		if err != nil {
			// A claim failure means the store itself is unhealthy; carrying
			// on would only pile up more errors.
			s.finishBatch(ctx, result)
			metrics.WorkerBatchesTotal.WithLabelValues("aborted").Inc()
			return result, errors.ErrStore.WithCause(err).WithDetail("batch_id", result.BatchID)
		}
		if msg == nil {
			break // queue drained
		}
		result.Claimed++
		s.processMessage(ctx, msg, maxAttempts, result)
	}

	s.finishBatch(ctx, result)
	metrics.WorkerBatchesTotal.WithLabelValues("completed").Inc()
	metrics.ObserveWorkerBatchDuration(result.FinishedAt.Sub(result.StartedAt), "completed")
	s.logger.InfowCtx(ctx, "Processing batch finished",
		"batch_id", result.BatchID,
		"claimed", result.Claimed,
		"processed", result.Processed,
		"failed", result.Failed,
		"retried", result.Retried,
		"skipped", result.Skipped,
		"remaining_pending", result.RemainingPending,
	)
	return result, nil
}

// processMessage runs one claimed message to a terminal state for this
// attempt. Every error path ends in a store write; if even that write fails
// the stale-heartbeat reclaim eventually recovers the message.
func (s *Service) processMessage(ctx context.Context, msg *intake.RawMessage, maxAttempts int, result *BatchResult) {
	if !msg.HasUsableText() {
		if err := s.messages.MarkProcessed(ctx, msg.DedupeKey, 0, intake.TokenUsage{}, s.clock().UTC()); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to mark empty message processed",
				"dedupe_key", msg.DedupeKey, "error", err)
			result.Failed++
			metrics.WorkerMessagesTotal.WithLabelValues("error").Inc()
			return
		}
		result.Skipped++
		metrics.WorkerMessagesTotal.WithLabelValues("skipped").Inc()
		return
	}

	extracted, err := s.extractor.Extract(ctx, msg.Text, extraction.ExtractOptions{
		MessageID: msg.DedupeKey,
	})
	if err != nil {
		s.handleProcessingError(ctx, msg, maxAttempts, err, result)
		return
	}

	// Extraction is the slow step; refresh the claim so a long model call
	// does not look like a dead worker to concurrent claimers.
	if err := s.messages.Heartbeat(ctx, msg.DedupeKey, s.clock().UTC()); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to heartbeat claimed message",
			"dedupe_key", msg.DedupeKey, "error", err)
	}

	usage := intake.TokenUsage{
		Prompt:     extracted.PromptTokens,
		Completion: extracted.CompletionTokens,
		Total:      extracted.TotalTokens,
	}
	result.TokenUsage = result.TokenUsage.Add(usage)

	now := s.clock().UTC()
	var upsertErr error
	for i, candidate := range extracted.Listings {
		ordinal := i + 1
		rec := listing.Canonicalize(candidate, msg.DedupeKey, ordinal, extracted.Truncated, now)
		outcome, err := s.listings.Upsert(ctx, rec, msg.DedupeKey, now)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Listing upsert failed",
				"dedupe_key", msg.DedupeKey, "ordinal", ordinal, "error", err)
			upsertErr = err
			break
		}
		if outcome == listing.OutcomeCreated {
			result.ListingsCreated++
		} else {
			result.ListingsUpdated++
		}
		s.publisher.PublishListingUpserted(ctx, events.ListingUpserted{
			ListingID:  rec.ID,
			DedupeKey:  msg.DedupeKey,
			Ordinal:    ordinal,
			Outcome:    string(outcome),
			City:       rec.Address.City,
			State:      rec.Address.State,
			Category:   rec.Deal.Category,
			OccurredAt: now,
		})
	}
	if upsertErr != nil {
		// The upsert is idempotent, so re-running the whole message is safe.
		s.handleProcessingError(ctx, msg, maxAttempts, errors.ErrStore.WithCause(upsertErr), result)
		return
	}

	if len(extracted.Listings) == 0 {
		metrics.ZeroListingMessagesTotal.Inc()
	}
	if err := s.messages.MarkProcessed(ctx, msg.DedupeKey, len(extracted.Listings), usage, s.clock().UTC()); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to mark message processed",
			"dedupe_key", msg.DedupeKey, "error", err)
		result.Failed++
		metrics.WorkerMessagesTotal.WithLabelValues("error").Inc()
		return
	}
	result.Processed++
	metrics.WorkerMessagesTotal.WithLabelValues("processed").Inc()
}

// handleProcessingError decides between another attempt and terminal
// failure. Attempts were already incremented by the claim, so a message at
// the cap fails now instead of going back to pending.
func (s *Service) handleProcessingError(ctx context.Context, msg *intake.RawMessage, maxAttempts int, cause error, result *BatchResult) {
	retryable := true
	var appErr *errors.Error
	if stderrors.As(cause, &appErr) {
		retryable = appErr.IsRetryable()
	}

	if retryable && msg.Processing.Attempts < maxAttempts {
		if err := s.messages.MarkRetry(ctx, msg.DedupeKey, cause.Error()); err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to release message for retry",
				"dedupe_key", msg.DedupeKey, "error", err)
		}
		result.Retried++
		metrics.WorkerMessagesTotal.WithLabelValues("retried").Inc()
		s.logger.WarnwCtx(ctx, "Message processing failed, will retry",
			"dedupe_key", msg.DedupeKey,
			"attempts", msg.Processing.Attempts,
			"error", cause,
		)
		return
	}

	if err := s.messages.MarkFailed(ctx, msg.DedupeKey, cause.Error(), s.clock().UTC()); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to mark message failed",
			"dedupe_key", msg.DedupeKey, "error", err)
	}
	result.Failed++
	metrics.WorkerMessagesTotal.WithLabelValues("failed").Inc()
	s.logger.ErrorwCtx(ctx, "Message processing failed terminally",
		"dedupe_key", msg.DedupeKey,
		"attempts", msg.Processing.Attempts,
		"error", cause,
	)
}

// finishBatch stamps the result, records the audit document and publishes
// the completion event. Audit and publish failures are logged, never
// propagated; the batch outcome is already in the message store.
func (s *Service) finishBatch(ctx context.Context, result *BatchResult) {
	result.FinishedAt = s.clock().UTC()

	if remaining, err := s.messages.CountPending(ctx); err == nil {
		result.RemainingPending = remaining
		metrics.SetPendingMessages(remaining)
	} else {
		s.logger.WarnwCtx(ctx, "Failed to count pending messages", "error", err)
	}

	if result.Claimed == 0 && result.RemainingPending == 0 {
		return // nothing happened, no audit noise
	}

	batch := ProcessingBatch{
		ID:               result.BatchID,
		StartedAt:        result.StartedAt,
		FinishedAt:       result.FinishedAt,
		Claimed:          result.Claimed,
		Processed:        result.Processed,
		Failed:           result.Failed,
		Retried:          result.Retried,
		Skipped:          result.Skipped,
		ListingsCreated:  result.ListingsCreated,
		ListingsUpdated:  result.ListingsUpdated,
		TokenUsage:       result.TokenUsage,
		RemainingPending: result.RemainingPending,
	}
	if err := s.audit.Record(ctx, batch); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to record batch audit",
			"batch_id", result.BatchID, "error", err)
	}

	s.publisher.PublishBatchCompleted(ctx, events.BatchCompleted{
		BatchID:          result.BatchID,
		Claimed:          result.Claimed,
		Processed:        result.Processed,
		Failed:           result.Failed,
		Skipped:          result.Skipped,
		ListingsCreated:  result.ListingsCreated,
		ListingsUpdated:  result.ListingsUpdated,
		RemainingPending: result.RemainingPending,
		OccurredAt:       result.FinishedAt,
	})
}
