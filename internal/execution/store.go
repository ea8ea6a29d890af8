package execution

import (
	"context"
	"fmt"
	"sync"
)

// Store keeps execution records queryable. Records are created at most once
// per acquired dedup lease; external history is the audit stream, so the
// store only needs in-process retention.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, recordID string) (*Record, error)
	ListBySubject(ctx context.Context, subjectID string) ([]*Record, error)
}

// MemoryStore is an in-memory execution record store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create stores a new record. Creating the same record id twice is an error:
// the dedup lease should have prevented the second attempt.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.RecordID]; exists {
		return fmt.Errorf("execution record already exists: %s", rec.RecordID)
	}
	s.records[rec.RecordID] = rec
	return nil
}

// Get retrieves a record by id.
func (s *MemoryStore) Get(ctx context.Context, recordID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("execution record not found: %s", recordID)
	}
	return rec, nil
}

// ListBySubject returns all records for a subject.
func (s *MemoryStore) ListBySubject(ctx context.Context, subjectID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, rec := range s.records {
		if rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	return out, nil
}
