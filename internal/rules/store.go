package rules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the rule persistence interface consumed by the engine.
// Mutations take effect for the next evaluation cycle only: ListEnabled
// returns copies, so in-flight evaluations never observe a mid-flight edit.
type Store interface {
	// Create validates and stores a new rule.
	Create(ctx context.Context, r *Rule) error

	// Get retrieves a rule by id.
	Get(ctx context.Context, ruleID string) (*Rule, error)

	// ListEnabled returns all enabled rules.
	ListEnabled(ctx context.Context) ([]*Rule, error)

	// Update applies an update command through the reducer.
	Update(ctx context.Context, ruleID string, u *Update) (*Rule, error)

	// Delete removes a rule.
	Delete(ctx context.Context, ruleID string) error

	// IncrementTriggerCount bumps the monotonic trigger count and records
	// the match time. Called once per acquired dedup lease.
	IncrementTriggerCount(ctx context.Context, ruleID string, firedAt time.Time) error

	// SetLastFired records the schedule boundary a schedule rule fired for.
	SetLastFired(ctx context.Context, ruleID string, boundary time.Time) error

	// Close releases store resources.
	Close() error
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	clock func() time.Time
}

// NewMemoryStore creates an empty in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules: make(map[string]*Rule),
		clock: time.Now,
	}
}

// SetClock overrides the store clock. Test use only.
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Create validates and stores a new rule.
func (s *MemoryStore) Create(ctx context.Context, r *Rule) error {
	if err := Validate(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[r.RuleID]; exists {
		return fmt.Errorf("rule already exists: %s", r.RuleID)
	}
	now := s.clock().UTC()
	stored := r.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.rules[r.RuleID] = stored
	return nil
}

// Get retrieves a rule by id.
func (s *MemoryStore) Get(ctx context.Context, ruleID string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("rule not found: %s", ruleID)
	}
	return r.Clone(), nil
}

// ListEnabled returns copies of all enabled rules.
func (s *MemoryStore) ListEnabled(ctx context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Rule
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// Update applies an update command through the reducer.
func (s *MemoryStore) Update(ctx context.Context, ruleID string, u *Update) (*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("rule not found: %s", ruleID)
	}
	next, err := Apply(r, u, s.clock().UTC())
	if err != nil {
		return nil, err
	}
	s.rules[ruleID] = next
	return next.Clone(), nil
}

// Delete removes a rule.
func (s *MemoryStore) Delete(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[ruleID]; !ok {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	delete(s.rules, ruleID)
	return nil
}

// IncrementTriggerCount bumps the trigger count and records the match time.
func (s *MemoryStore) IncrementTriggerCount(ctx context.Context, ruleID string, firedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	r.TriggerCount++
	t := firedAt.UTC()
	r.LastTriggered = &t
	return nil
}

// SetLastFired records the schedule boundary the rule fired for.
func (s *MemoryStore) SetLastFired(ctx context.Context, ruleID string, boundary time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	b := boundary.UTC()
	r.LastFired = &b
	return nil
}

// Close releases store resources.
func (s *MemoryStore) Close() error {
	return nil
}
