package config

import (
	"fmt"
	"net/url"
	"strings"

	"homefeed/internal/constants"
)

// ValidateStatic checks the parts of the configuration that can be verified
// without connecting to anything, and fills in safe defaults for optional
// values.
func ValidateStatic(cfg *Config) error {
	applyDefaults(cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Database.MongoDB.URI == "" {
		return fmt.Errorf("database.mongodb.uri is required")
	}
	if !strings.HasPrefix(cfg.Database.MongoDB.URI, "mongodb://") && !strings.HasPrefix(cfg.Database.MongoDB.URI, "mongodb+srv://") {
		return fmt.Errorf("database.mongodb.uri must start with mongodb:// or mongodb+srv://")
	}
	if cfg.Database.MongoDB.Database == "" {
		return fmt.Errorf("database.mongodb.database is required")
	}

	if cfg.Webhook.AppSecret == "" {
		return fmt.Errorf("webhook.app_secret is required")
	}

	if cfg.Extraction.Model == "" {
		return fmt.Errorf("extraction.model is required")
	}
	if cfg.Extraction.MaxInputChars < 100 {
		return fmt.Errorf("extraction.max_input_chars must be at least 100, got %d", cfg.Extraction.MaxInputChars)
	}
	if cfg.Extraction.MaxListings < 1 || cfg.Extraction.MaxListings > constants.MaxBatchSize {
		return fmt.Errorf("extraction.max_listings must be between 1 and %d, got %d", constants.MaxBatchSize, cfg.Extraction.MaxListings)
	}

	if cfg.Worker.BatchSize < 1 || cfg.Worker.BatchSize > constants.MaxBatchSize {
		return fmt.Errorf("worker.batch_size must be between 1 and %d, got %d", constants.MaxBatchSize, cfg.Worker.BatchSize)
	}
	if cfg.Worker.MaxAttempts < 1 || cfg.Worker.MaxAttempts > constants.MaxMaxAttempts {
		return fmt.Errorf("worker.max_attempts must be between 1 and %d, got %d", constants.MaxMaxAttempts, cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.ClaimTimeoutSeconds < 1 {
		return fmt.Errorf("worker.claim_timeout_seconds must be positive, got %d", cfg.Worker.ClaimTimeoutSeconds)
	}
	if cfg.Worker.RemoteURL != "" {
		if _, err := url.ParseRequestURI(cfg.Worker.RemoteURL); err != nil {
			return fmt.Errorf("worker.remote_url is not a valid URL: %w", err)
		}
		if cfg.Worker.SharedSecret == "" {
			return fmt.Errorf("worker.shared_secret is required when worker.remote_url is set")
		}
	}
	if cfg.Worker.SharedSecret == "" {
		return fmt.Errorf("worker.shared_secret is required")
	}

	if cfg.Trigger.DebounceSeconds < 0 {
		return fmt.Errorf("trigger.debounce_seconds must not be negative, got %d", cfg.Trigger.DebounceSeconds)
	}

	if len(cfg.Broker.Kafka.Brokers) > 0 {
		if cfg.Broker.Kafka.ListingTopic == "" && cfg.Broker.Kafka.BatchTopic == "" {
			return fmt.Errorf("broker.kafka requires at least one of listing_topic or batch_topic")
		}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}

	if cfg.CircuitBreaker.Enabled {
		if cfg.CircuitBreaker.FailureRatio <= 0 || cfg.CircuitBreaker.FailureRatio > 1 {
			return fmt.Errorf("circuit_breaker.failure_ratio must be in (0, 1], got %f", cfg.CircuitBreaker.FailureRatio)
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate_limit.rps must be positive, got %f", cfg.RateLimit.RPS)
		}
		if cfg.RateLimit.Burst < 1 {
			return fmt.Errorf("rate_limit.burst must be at least 1, got %d", cfg.RateLimit.Burst)
		}
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Webhook.Provider == "" {
		cfg.Webhook.Provider = "whatsapp"
	}
	if cfg.Extraction.MaxInputChars == 0 {
		cfg.Extraction.MaxInputChars = constants.DefaultMaxInputChars
	}
	if cfg.Extraction.MaxListings == 0 {
		cfg.Extraction.MaxListings = constants.DefaultMaxListings
	}
	if cfg.Extraction.TimeoutSeconds == 0 {
		cfg.Extraction.TimeoutSeconds = int(constants.DefaultExtractTimeout.Seconds())
	}
	if cfg.Worker.BatchSize == 0 {
		cfg.Worker.BatchSize = constants.DefaultBatchSize
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = constants.DefaultMaxAttempts
	}
	if cfg.Worker.ClaimTimeoutSeconds == 0 {
		cfg.Worker.ClaimTimeoutSeconds = int(constants.DefaultClaimTimeout.Seconds())
	}
	if cfg.Trigger.DebounceSeconds == 0 {
		cfg.Trigger.DebounceSeconds = int(constants.DefaultTriggerWindow.Seconds())
	}
}
