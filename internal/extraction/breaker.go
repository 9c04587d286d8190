package extraction

import (
	"context"

	"github.com/sony/gobreaker"

	"homefeed/internal/config"
	"homefeed/pkg/circuitbreaker"
	"homefeed/pkg/errors"
)

// BreakerClient shields the extraction backend behind a circuit breaker.
// An open breaker surfaces as a retryable extraction error, so affected
// messages go back to pending instead of burning attempts on a dead backend.
type BreakerClient struct {
	inner   Extractor
	breaker *circuitbreaker.Wrapper
}

func NewBreakerClient(inner Extractor, cfg config.CircuitBreakerConfig) *BreakerClient {
	bcfg := circuitbreaker.DefaultConfig("extraction")
	if cfg.MaxRequests > 0 {
		bcfg.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		bcfg.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		bcfg.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 {
		minRequests := cfg.MinRequests
		if minRequests == 0 {
			minRequests = 3
		}
		bcfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && ratio >= cfg.FailureRatio
		}
	}
	return &BreakerClient{
		inner:   inner,
		breaker: circuitbreaker.NewWrapper(bcfg),
	}
}

func (b *BreakerClient) Extract(ctx context.Context, text string, opts ExtractOptions) (*Result, error) {
	result, err := b.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return b.inner.Extract(ctx, text, opts)
	})
	b.breaker.RecordRequest(err == nil)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errors.ErrExtraction.WithCause(err).WithDetail("reason", "extraction backend unavailable")
	}
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}
