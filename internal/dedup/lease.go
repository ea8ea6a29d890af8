// Package dedup provides the debounce window bucketing and short-TTL lease
// that prevent duplicate rule firing. The lease is the engine's sole
// mutual-exclusion point: the event-driven and scheduled-scan paths both
// serialize through it per (rule_id, subject_id, window_bucket).
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the default debounce interval for window buckets.
const DefaultWindow = 5 * time.Minute

// Bucket maps a timestamp onto its debounce window bucket.
func Bucket(ts time.Time, window time.Duration) int64 {
	return ts.UTC().Truncate(window).Unix()
}

// Key builds the lease key for a (rule, subject, bucket) triple.
func Key(ruleID, subjectID string, bucket int64) string {
	return fmt.Sprintf("lease:%s:%s:%d", ruleID, subjectID, bucket)
}

// Leaser acquires dedup leases. Acquire returns true when the caller won
// the lease and may fire; false means another evaluation path already holds
// it for this bucket and the caller must skip.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLeaser implements Leaser on Redis SET NX PX, which is atomic across
// processes and across the event/scan paths.
type RedisLeaser struct {
	client *redis.Client
}

// NewRedisLeaser creates a Redis-backed leaser.
func NewRedisLeaser(client *redis.Client) *RedisLeaser {
	return &RedisLeaser{client: client}
}

// Acquire attempts to take the lease.
func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	return ok, nil
}

// MemoryLeaser implements Leaser in process memory for tests and
// single-node deployments.
type MemoryLeaser struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewMemoryLeaser creates an in-memory leaser.
func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// SetClock overrides the leaser clock. Test use only.
func (l *MemoryLeaser) SetClock(clock func() time.Time) {
	l.clock = clock
}

// Acquire attempts to take the lease.
func (l *MemoryLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if expiry, ok := l.held[key]; ok && expiry.After(now) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}
