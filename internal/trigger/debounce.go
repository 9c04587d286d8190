package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"homefeed/internal/constants"
)

// Debouncer gates how often new-message notifications turn into worker
// runs. TryAcquire returns true when a run may start now. Debouncing is
// advisory only: a lost debounce state causes at most an extra no-op batch,
// never a missed message (the claim loop drains whatever is pending).
type Debouncer interface {
	TryAcquire(ctx context.Context, window time.Duration) bool
}

// RedisDebouncer coordinates across processes with a SetNX key that expires
// after the debounce window.
type RedisDebouncer struct {
	client *redis.Client
}

func NewRedisDebouncer(client *redis.Client) *RedisDebouncer {
	return &RedisDebouncer{client: client}
}

func (d *RedisDebouncer) TryAcquire(ctx context.Context, window time.Duration) bool {
	ok, err := d.client.SetNX(ctx, constants.CacheKeyTriggerDebounce, time.Now().Unix(), window).Result()
	if err != nil {
		// Redis down: allow the run rather than stall the pipeline.
		return true
	}
	return ok
}

// LocalDebouncer is the single-process fallback when redis is not
// configured.
type LocalDebouncer struct {
	mu      sync.Mutex
	lastRun time.Time
	clock   func() time.Time
}

func NewLocalDebouncer() *LocalDebouncer {
	return &LocalDebouncer{clock: time.Now}
}

func (d *LocalDebouncer) TryAcquire(_ context.Context, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	if now.Sub(d.lastRun) < window {
		return false
	}
	d.lastRun = now
	return true
}
