package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IntakeMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_messages_total",
			Help: "Total number of webhook messages handled by the intake normalizer (count)",
		},
		[]string{"result"},
	)

	IntakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_duration_ms",
			Help:    "Duration of webhook intake handling in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	WorkerBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_batches_total",
			Help: "Total number of worker batch runs (count)",
		},
		[]string{"status"},
	)

	WorkerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_messages_total",
			Help: "Total number of claimed messages by processing outcome (count)",
		},
		[]string{"outcome"},
	)

	WorkerBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_batch_duration_ms",
			Help:    "Duration of a full worker batch run in milliseconds",
			Buckets: []float64{100, 500, 1000, 5000, 15000, 30000, 60000, 120000},
		},
		[]string{"status"},
	)

	PendingMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_messages",
			Help: "Messages still eligible for claiming after the last batch run (count)",
		},
	)

	ExtractionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_requests_total",
			Help: "Total number of extraction model calls (count)",
		},
		[]string{"status"},
	)

	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_ms",
			Help:    "Duration of extraction model calls in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"status"},
	)

	ExtractionTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_tokens_total",
			Help: "Total tokens consumed by extraction calls (count)",
		},
		[]string{"kind"},
	)

	ExtractionTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extraction_truncated_total",
			Help: "Messages whose text was truncated before extraction (count)",
		},
	)

	ZeroListingMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zero_listing_messages_total",
			Help: "Messages that completed extraction with no listings found (count)",
		},
	)

	ListingUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_upserts_total",
			Help: "Total number of listing upserts by result (count)",
		},
		[]string{"result"},
	)

	TriggerNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_notifications_total",
			Help: "Total number of worker trigger notifications by outcome (count)",
		},
		[]string{"outcome"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of pipeline events published to the broker (count)",
		},
		[]string{"topic", "status"},
	)

	SearchQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_queries_total",
			Help: "Total number of listing search queries (count)",
		},
		[]string{"status"},
	)
)

func RegisterIntakeMetrics() {
	prometheus.MustRegister(IntakeMessagesTotal)
	prometheus.MustRegister(IntakeDuration)
	prometheus.MustRegister(TriggerNotificationsTotal)
}

func RegisterWorkerMetrics() {
	prometheus.MustRegister(WorkerBatchesTotal)
	prometheus.MustRegister(WorkerMessagesTotal)
	prometheus.MustRegister(WorkerBatchDuration)
	prometheus.MustRegister(PendingMessages)
	prometheus.MustRegister(ZeroListingMessagesTotal)
	prometheus.MustRegister(ListingUpsertsTotal)
}

func RegisterExtractionMetrics() {
	prometheus.MustRegister(ExtractionRequestsTotal)
	prometheus.MustRegister(ExtractionDuration)
	prometheus.MustRegister(ExtractionTokensTotal)
	prometheus.MustRegister(ExtractionTruncatedTotal)
}

func RegisterHTTPMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(SearchQueriesTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(EventsPublishedTotal)
}

func ObserveIntakeDuration(duration time.Duration, status string) {
	IntakeDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveWorkerBatchDuration(duration time.Duration, status string) {
	WorkerBatchDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func ObserveExtractionDuration(duration time.Duration, status string) {
	ExtractionDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func AddExtractionTokens(prompt, completion int) {
	ExtractionTokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	ExtractionTokensTotal.WithLabelValues("completion").Add(float64(completion))
}

func SetPendingMessages(count int64) {
	PendingMessages.Set(float64(count))
}
