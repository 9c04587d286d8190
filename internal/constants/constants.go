package constants

import "time"

const (
	DefaultMongoDBName = "homefeed"

	CollectionIncomingMessages = "incoming_messages"
	CollectionProperties       = "properties"
	CollectionProcessingJobs   = "processing_jobs"
)

const (
	DedupeKeyPrefix         = "wa:"
	SynthesizedDedupeInfix  = "anon:"
	CacheKeyTriggerDebounce = "trigger:worker:inflight"
	WebhookSignatureHeader  = "X-Hub-Signature-256"
	WebhookSignaturePrefix  = "sha256="
)

const (
	DefaultBatchSize   = 5
	MaxBatchSize       = 20
	DefaultMaxAttempts = 3
	MaxMaxAttempts     = 10

	DefaultClaimTimeout   = 10 * time.Minute
	DefaultTriggerWindow  = 30 * time.Second
	DefaultRemoteTimeout  = 5 * time.Second
	DefaultExtractTimeout = 60 * time.Second
)

const (
	DefaultMaxInputChars = 2400
	DefaultMaxListings   = 5
	DefaultCurrency      = "NGN"
	ParserVersion        = "2.1.0"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
)
