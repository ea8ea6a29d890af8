// Package metrics provides the engine's metrics collection and reporting.
// Counters are kept in atomics and periodically written to Redis for
// centralized access.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for service metrics.
	KeyPrefix = "metrics:"
	// TTL is how long metrics stay in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// Engine counter names.
const (
	EventsConsumed       = "events_consumed"
	RulesEvaluated       = "rules_evaluated"
	TriggersFired        = "triggers_fired"
	DedupSkips           = "dedup_skips"
	ActionsDispatched    = "actions_dispatched"
	ActionsFailed        = "actions_failed"
	SendsSuppressed      = "sends_suppressed"
	SendsFlushed         = "sends_flushed"
	EscalationsScheduled = "escalations_scheduled"
	EscalationsFired     = "escalations_fired"
	EscalationsResolved  = "escalations_resolved"
	WebhookRetries       = "webhook_retries"
	AlertsGenerated      = "alerts_generated"
	AlertsDismissed      = "alerts_dismissed"
	AlertsExpired        = "alerts_expired"
)

// Snapshot is the JSON document written to Redis.
type Snapshot struct {
	ServiceName string            `json:"service_name"`
	StartedAt   time.Time         `json:"started_at"`
	LastUpdated time.Time         `json:"last_updated"`
	Counters    map[string]uint64 `json:"counters"`
}

// Collector collects and reports metrics for the engine. A nil Redis client
// keeps counting in memory and skips reporting, which is what tests use.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	mu       sync.RWMutex
	counters map[string]*atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		counters:       make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Inc increments a named counter by one.
func (c *Collector) Inc(name string) {
	c.Add(name, 1)
}

// Add increments a named counter by n.
func (c *Collector) Add(name string, n uint64) {
	c.mu.RLock()
	counter, ok := c.counters[name]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		counter, ok = c.counters[name]
		if !ok {
			counter = &atomic.Uint64{}
			c.counters[name] = counter
		}
		c.mu.Unlock()
	}
	counter.Add(n)
}

// Value returns a counter's current value.
func (c *Collector) Value(name string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if counter, ok := c.counters[name]; ok {
		return counter.Load()
	}
	return 0
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counters := make(map[string]uint64, len(c.counters))
	for name, counter := range c.counters {
		counters[name] = counter.Load()
	}
	return Snapshot{
		ServiceName: c.serviceName,
		StartedAt:   c.startedAt,
		LastUpdated: time.Now().UTC(),
		Counters:    counters,
	}
}

// Start begins periodic reporting to Redis. No-op without a Redis client.
func (c *Collector) Start(ctx context.Context) {
	if c.redis == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background()) // Final write
				return
			case <-c.stopCh:
				c.write(context.Background()) // Final write
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop halts reporting and flushes a final snapshot.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) write(ctx context.Context) {
	snap := c.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics snapshot", "error", err)
		return
	}
	key := KeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Warn("Failed to write metrics to Redis", "key", key, "error", err)
	}
}
