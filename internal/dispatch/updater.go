package dispatch

import (
	"context"
	"sync"
	"time"
)

// ResourceUpdater applies update actions to the related resource. Apply
// must be idempotent: re-applying the same field is a no-op beyond the
// timestamp refresh.
type ResourceUpdater interface {
	Apply(ctx context.Context, subjectID, field string, at time.Time) error
}

// MemoryUpdater records field updates in memory.
type MemoryUpdater struct {
	mu     sync.Mutex
	fields map[string]time.Time
}

// NewMemoryUpdater creates an empty updater.
func NewMemoryUpdater() *MemoryUpdater {
	return &MemoryUpdater{fields: make(map[string]time.Time)}
}

// Apply sets the field's timestamp for the subject.
func (u *MemoryUpdater) Apply(ctx context.Context, subjectID, field string, at time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fields[subjectID+"|"+field] = at.UTC()
	return nil
}

// Get returns the recorded timestamp for a subject field.
func (u *MemoryUpdater) Get(subjectID, field string) (time.Time, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.fields[subjectID+"|"+field]
	return t, ok
}
