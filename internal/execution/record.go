// Package execution provides execution records: the append-only bookkeeping
// of what a fired rule actually did, action by action.
package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActionStatus is the outcome of a single dispatched action.
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusDelivered  ActionStatus = "delivered"
	StatusFailed     ActionStatus = "failed"
	StatusSuppressed ActionStatus = "suppressed" // queued behind quiet hours, delivered at flush
	StatusScheduled  ActionStatus = "scheduled"  // escalation timer armed
	StatusResolved   ActionStatus = "resolved"   // escalation condition met before the timer fired
	StatusSkipped    ActionStatus = "skipped"
)

// OverallStatus is the derived status of a whole record.
type OverallStatus string

const (
	OverallCompleted       OverallStatus = "completed"
	OverallPartiallyFailed OverallStatus = "partially_failed"
)

// ActionResult is one slot in the per-action status map. Each slot is
// written by exactly one action executor; escalation follow-ups append a
// new slot instead of rewriting an existing one.
type ActionResult struct {
	Status ActionStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
	// Channels holds per-channel outcomes for notify actions.
	Channels map[string]ActionStatus `json:"channels,omitempty"`
	At       time.Time               `json:"at"`
}

func (r *ActionResult) failed() bool {
	if r.Status == StatusFailed {
		return true
	}
	for _, st := range r.Channels {
		if st == StatusFailed {
			return true
		}
	}
	return false
}

// Record is an execution record: an immutable header plus a mutable
// per-action status map. History is append-only; the version counter lets
// escalation timers detect that a resolution raced past them.
type Record struct {
	RecordID  string    `json:"record_id"`
	RuleID    string    `json:"rule_id"`
	SubjectID string    `json:"subject_id"`
	MatchedAt time.Time `json:"matched_at"`

	mu      sync.Mutex
	actions map[string]*ActionResult
	version int
}

// NewRecord creates a record for a matched (rule, subject).
func NewRecord(ruleID, subjectID string, matchedAt time.Time) *Record {
	return &Record{
		RecordID:  uuid.NewString(),
		RuleID:    ruleID,
		SubjectID: subjectID,
		MatchedAt: matchedAt.UTC(),
		actions:   make(map[string]*ActionResult),
	}
}

// ActionKey names the status slot for the i-th action of the given type.
func ActionKey(index int, actionType string) string {
	return fmt.Sprintf("%d:%s", index, actionType)
}

// SetAction writes an action's status slot. A slot may go from pending to a
// terminal status, or be refined (notify channel outcomes arriving one by
// one); a terminal slot is never rewritten to a different terminal status.
func (r *Record) SetAction(key string, result ActionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.actions[key]
	if ok && existing.Status != StatusPending && existing.Status != StatusScheduled && result.Status != existing.Status {
		// History is append-only: refuse to rewrite a settled slot.
		return
	}
	copied := result
	if result.Channels != nil {
		copied.Channels = make(map[string]ActionStatus, len(result.Channels))
		for ch, st := range result.Channels {
			copied.Channels[ch] = st
		}
	}
	r.actions[key] = &copied
}

// SetChannelOutcome records one channel's outcome under a notify slot.
func (r *Record) SetChannelOutcome(key, channel string, status ActionStatus, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.actions[key]
	if !ok {
		slot = &ActionResult{Status: StatusPending, At: at}
		r.actions[key] = slot
	}
	if slot.Channels == nil {
		slot.Channels = make(map[string]ActionStatus)
	}
	slot.Channels[channel] = status
}

// Action returns a copy of the named status slot.
func (r *Record) Action(key string) (ActionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.actions[key]
	if !ok {
		return ActionResult{}, false
	}
	out := *slot
	if slot.Channels != nil {
		out.Channels = make(map[string]ActionStatus, len(slot.Channels))
		for ch, st := range slot.Channels {
			out.Channels[ch] = st
		}
	}
	return out, true
}

// Actions returns a copy of the whole status map.
func (r *Record) Actions() map[string]ActionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ActionResult, len(r.actions))
	for key, slot := range r.actions {
		copied := *slot
		if slot.Channels != nil {
			copied.Channels = make(map[string]ActionStatus, len(slot.Channels))
			for ch, st := range slot.Channels {
				copied.Channels[ch] = st
			}
		}
		out[key] = copied
	}
	return out
}

// Version returns the record's version counter.
func (r *Record) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// BumpVersion increments the version counter. Called when an escalation
// condition resolves so a racing timer can detect it fired too late.
func (r *Record) BumpVersion() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	return r.version
}

// OverallStatus derives the record status: Completed when every action
// settled without failure, PartiallyFailed otherwise.
func (r *Record) OverallStatus() OverallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.actions {
		if slot.failed() {
			return OverallPartiallyFailed
		}
	}
	return OverallCompleted
}
