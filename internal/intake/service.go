package intake

import (
	"context"
	"time"

	"homefeed/internal/logger"
	"homefeed/pkg/metrics"
	"homefeed/pkg/tracing"
)

// Notifier is poked after new messages land so processing can start without
// waiting for a poll cycle. Implementations must never block ingestion.
type Notifier interface {
	NotifyNewMessages(ctx context.Context)
}

// IngestSummary reports what a webhook delivery did to the store. Updated
// counts redeliveries of already-known messages; skipped counts delivery
// items that carry no message (status updates and the like).
type IngestSummary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Normalizer turns webhook payloads into raw message records.
type Normalizer struct {
	repo     Repository
	notifier Notifier
	provider string
	logger   logger.Logger
	clock    func() time.Time
}

func NewNormalizer(repo Repository, notifier Notifier, provider string, log logger.Logger) *Normalizer {
	return &Normalizer{
		repo:     repo,
		notifier: notifier,
		provider: provider,
		logger:   log,
		clock:    time.Now,
	}
}

// Ingest parses one webhook delivery and upserts every message it carries.
// Parsing errors reject the whole delivery; store errors abort mid-way with
// already-upserted messages left in place (the upsert is idempotent, so the
// provider retrying the delivery is safe).
func (n *Normalizer) Ingest(ctx context.Context, body []byte) (IngestSummary, error) {
	ctx, span := tracing.GetTracer("intake-service").Start(ctx, "intake.ingest")
	defer span.End()

	start := n.clock()
	messages, skipped, err := ParseEnvelope(body, n.provider, start.UTC())
	if err != nil {
		metrics.IntakeMessagesTotal.WithLabelValues("rejected").Inc()
		return IngestSummary{}, err
	}

	summary := IngestSummary{Skipped: skipped}
	for _, msg := range messages {
		res, err := n.repo.Upsert(ctx, msg, n.clock().UTC())
		if err != nil {
			metrics.IntakeMessagesTotal.WithLabelValues("error").Inc()
			return summary, err
		}
		if res.Inserted {
			summary.Inserted++
			metrics.IntakeMessagesTotal.WithLabelValues("inserted").Inc()
		} else {
			summary.Updated++
			metrics.IntakeMessagesTotal.WithLabelValues("duplicate").Inc()
		}
	}
	metrics.ObserveIntakeDuration(time.Since(start), "ok")

	n.logger.InfowCtx(ctx, "Webhook delivery ingested",
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
	)

	// Redeliveries notify too: the refreshed message may still be pending
	// because an earlier notify was lost.
	if (summary.Inserted > 0 || summary.Updated > 0) && n.notifier != nil {
		// Detached from the request context so a slow notify path cannot
		// delay the webhook ack.
		go n.notifier.NotifyNewMessages(context.WithoutCancel(ctx))
	}

	return summary, nil
}
