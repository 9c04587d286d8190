package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"homefeed/internal/config"
	"homefeed/internal/constants"
	"homefeed/internal/logger"
	"homefeed/pkg/metrics"
	"homefeed/pkg/tracing"
)

// ListingUpserted is emitted after every successful listing upsert.
type ListingUpserted struct {
	Type       string    `json:"type"`
	ListingID  string    `json:"listing_id"`
	DedupeKey  string    `json:"dedupe_key"`
	Ordinal    int       `json:"ordinal"`
	Outcome    string    `json:"outcome"`
	City       string    `json:"city,omitempty"`
	State      string    `json:"state,omitempty"`
	Category   string    `json:"category,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BatchCompleted is emitted once per worker run.
type BatchCompleted struct {
	Type             string    `json:"type"`
	BatchID          string    `json:"batch_id"`
	Claimed          int       `json:"claimed"`
	Processed        int       `json:"processed"`
	Failed           int       `json:"failed"`
	Skipped          int       `json:"skipped"`
	ListingsCreated  int       `json:"listings_created"`
	ListingsUpdated  int       `json:"listings_updated"`
	RemainingPending int64     `json:"remaining_pending"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Publisher emits pipeline events for downstream consumers. Publishing is
// best-effort everywhere it is called: a broker outage must never fail a
// batch or an upsert.
type Publisher interface {
	PublishListingUpserted(ctx context.Context, event ListingUpserted)
	PublishBatchCompleted(ctx context.Context, event BatchCompleted)
	Close() error
}

type KafkaPublisher struct {
	writer       *kafka.Writer
	listingTopic string
	batchTopic   string
	logger       logger.Logger
}

// NewPublisher returns a kafka-backed publisher, or a nop one when no
// brokers are configured.
func NewPublisher(cfg config.KafkaConfig, log logger.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		return NopPublisher{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaPublisher{
		writer:       w,
		listingTopic: cfg.ListingTopic,
		batchTopic:   cfg.BatchTopic,
		logger:       log,
	}
}

func (p *KafkaPublisher) PublishListingUpserted(ctx context.Context, event ListingUpserted) {
	event.Type = "listing.upserted"
	p.publish(ctx, p.listingTopic, event.ListingID, event)
}

func (p *KafkaPublisher) PublishBatchCompleted(ctx context.Context, event BatchCompleted) {
	event.Type = "batch.completed"
	p.publish(ctx, p.batchTopic, event.BatchID, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, key string, event interface{}) {
	if topic == "" {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to marshal event", "error", err, "topic", topic)
		return
	}

	headers := tracing.InjectTraceContext(ctx, []kafka.Header{})

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(topic, "error").Inc()
		p.logger.WarnwCtx(ctx, "Failed to publish event", "error", err, "topic", topic)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(topic, "ok").Inc()
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// NopPublisher drops all events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishListingUpserted(context.Context, ListingUpserted) {}
func (NopPublisher) PublishBatchCompleted(context.Context, BatchCompleted)   {}
func (NopPublisher) Close() error                                            { return nil }
