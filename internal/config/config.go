package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Webhook        WebhookConfig
	Extraction     ExtractionConfig
	Worker         WorkerConfig
	Trigger        TriggerConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimit      RateLimitConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	MongoDB MongoDBConfig
	Redis   RedisConfig
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WebhookConfig struct {
	// AppSecret is the shared secret used to verify the HMAC signature
	// carried on webhook deliveries.
	AppSecret string `mapstructure:"app_secret"`
	Provider  string `mapstructure:"provider"`
}

type ExtractionConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	MaxInputChars  int    `mapstructure:"max_input_chars"`
	MaxListings    int    `mapstructure:"max_listings"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type WorkerConfig struct {
	BatchSize           int    `mapstructure:"batch_size"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	ClaimTimeoutSeconds int    `mapstructure:"claim_timeout_seconds"`
	// RemoteURL, when set, makes the trigger call a remote worker instead
	// of running batches in-process.
	RemoteURL    string `mapstructure:"remote_url"`
	SharedSecret string `mapstructure:"shared_secret"`
}

type TriggerConfig struct {
	DebounceSeconds int `mapstructure:"debounce_seconds"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	ListingTopic string   `mapstructure:"listing_topic"`
	BatchTopic   string   `mapstructure:"batch_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
