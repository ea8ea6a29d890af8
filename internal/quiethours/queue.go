package quiethours

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/freightdeck/pulse/internal/channels"
	"github.com/freightdeck/pulse/internal/execution"
)

// Pending is a suppressed send waiting for its window to end. Record and
// ActionKey point back at the suppressed channel's slot so the flush can
// settle its outcome.
type Pending struct {
	AccountID string
	Channel   string
	Message   channels.Message
	Record    *execution.Record
	RecordID  string
	ActionKey string
	FlushAt   time.Time
	QueuedAt  time.Time
}

// Queue accumulates suppressed sends. Only the most recent send per
// (account, channel) survives to flush, so a backlog built up during the
// window never delivers duplicates.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// NewQueue creates an empty suppress queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]*Pending)}
}

func pendingKey(accountID, channel string) string {
	return accountID + "|" + channel
}

// Enqueue adds or replaces the pending send for (account, channel).
func (q *Queue) Enqueue(p *Pending) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := pendingKey(p.AccountID, p.Channel)
	if prev, ok := q.pending[key]; ok {
		slog.Debug("Collapsing suppressed send",
			"account_id", p.AccountID,
			"channel", p.Channel,
			"replaced_record_id", prev.RecordID,
		)
	}
	q.pending[key] = p
}

// TakeDue removes and returns all pending sends whose flush time has passed.
func (q *Queue) TakeDue(now time.Time) []*Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*Pending
	for key, p := range q.pending {
		if !p.FlushAt.After(now) {
			due = append(due, p)
			delete(q.pending, key)
		}
	}
	return due
}

// Len returns the number of pending sends.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeliverFunc delivers one flushed send.
type DeliverFunc func(ctx context.Context, p *Pending)

// Flusher drains the queue on a fixed scan interval, handing due sends to
// the deliver callback.
type Flusher struct {
	queue    *Queue
	interval time.Duration
	deliver  DeliverFunc
}

// NewFlusher creates a flusher scanning the queue every interval.
func NewFlusher(queue *Queue, interval time.Duration, deliver DeliverFunc) *Flusher {
	return &Flusher{
		queue:    queue,
		interval: interval,
		deliver:  deliver,
	}
}

// Run scans until the context is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	slog.Info("Starting quiet hours flusher", "interval", f.interval)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Quiet hours flusher stopped")
			return
		case now := <-ticker.C:
			f.FlushDue(ctx, now)
		}
	}
}

// FlushDue delivers everything due as of now.
func (f *Flusher) FlushDue(ctx context.Context, now time.Time) {
	for _, p := range f.queue.TakeDue(now) {
		slog.Info("Flushing suppressed send",
			"account_id", p.AccountID,
			"channel", p.Channel,
			"record_id", p.RecordID,
			"queued_at", p.QueuedAt,
		)
		f.deliver(ctx, p)
	}
}
