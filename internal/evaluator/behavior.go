package evaluator

import (
	"sync"
	"time"
)

// BehaviorTracker keeps a rolling window of pattern occurrences per subject.
// Recording happens on event ingest; behavior triggers read counts during
// evaluation without mutating state.
type BehaviorTracker struct {
	mu          sync.Mutex
	occurrences map[string][]time.Time
	// maxWindow bounds retention; occurrences older than this are pruned
	// on every write regardless of any trigger's timeframe.
	maxWindow time.Duration
}

// NewBehaviorTracker creates a tracker retaining occurrences up to maxWindow.
func NewBehaviorTracker(maxWindow time.Duration) *BehaviorTracker {
	return &BehaviorTracker{
		occurrences: make(map[string][]time.Time),
		maxWindow:   maxWindow,
	}
}

func behaviorKey(pattern, subjectID string) string {
	return pattern + "|" + subjectID
}

// Record registers one occurrence of a pattern for a subject.
func (t *BehaviorTracker) Record(pattern, subjectID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := behaviorKey(pattern, subjectID)
	t.occurrences[key] = prune(append(t.occurrences[key], ts), ts.Add(-t.maxWindow))
}

// Count returns the number of occurrences within (now-window, now].
func (t *BehaviorTracker) Count(pattern, subjectID string, window time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := now.Add(-window)
	n := 0
	for _, ts := range t.occurrences[behaviorKey(pattern, subjectID)] {
		if ts.After(cutoff) && !ts.After(now) {
			n++
		}
	}
	return n
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
