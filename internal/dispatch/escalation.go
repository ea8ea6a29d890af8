package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/freightdeck/pulse/internal/execution"
	"github.com/freightdeck/pulse/internal/rules"
)

// ResolutionChecker answers whether an escalation's resolve condition has
// been met for a record. Resolution semantics (read receipts vs explicit
// acknowledgment) live outside the engine; the default implementation is
// driven by acknowledgement events.
type ResolutionChecker interface {
	Resolved(ctx context.Context, recordID, condition string) (bool, error)
}

// AckChecker resolves escalations on explicit acknowledgement events.
type AckChecker struct {
	mu   sync.Mutex
	acks map[string]bool
}

// NewAckChecker creates an empty acknowledgement checker.
func NewAckChecker() *AckChecker {
	return &AckChecker{acks: make(map[string]bool)}
}

// Acknowledge marks a record as acknowledged.
func (c *AckChecker) Acknowledge(recordID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks[recordID] = true
}

// Resolved reports whether the record has been acknowledged.
func (c *AckChecker) Resolved(ctx context.Context, recordID, condition string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acks[recordID], nil
}

// EscalationTask is one armed escalation timer.
type EscalationTask struct {
	Record    *execution.Record
	Rule      *rules.Rule
	ActionKey string
	Condition string
	// version snapshots the record version at scheduling time; a timer
	// firing after a resolution bumped the version is a no-op.
	version int
}

// FireFunc performs the amplified follow-up notify when an escalation fires
// unresolved.
type FireFunc func(ctx context.Context, task *EscalationTask)

// EscalationManager owns escalation timers: schedule, cancel, and the
// race-tolerant fire path. Each task fires at most once; a fired task is
// never rescheduled, so there is no cascading re-escalation.
type EscalationManager struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	byRec   map[string][]string
	checker ResolutionChecker
	fire    FireFunc
}

// NewEscalationManager creates a manager firing through fn.
func NewEscalationManager(checker ResolutionChecker, fn FireFunc) *EscalationManager {
	return &EscalationManager{
		timers:  make(map[string]*time.Timer),
		byRec:   make(map[string][]string),
		checker: checker,
		fire:    fn,
	}
}

// Schedule arms a timer for the task after delay.
func (m *EscalationManager) Schedule(ctx context.Context, task *EscalationTask, delay time.Duration) {
	task.version = task.Record.Version()
	key := task.Record.RecordID + "|" + task.ActionKey

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.timers[key]; exists {
		// Already armed; an escalate action schedules once per record.
		return
	}
	m.timers[key] = time.AfterFunc(delay, func() {
		m.onFire(ctx, key, task)
	})
	m.byRec[task.Record.RecordID] = append(m.byRec[task.Record.RecordID], key)

	slog.Info("Escalation scheduled",
		"record_id", task.Record.RecordID,
		"rule_id", task.Rule.RuleID,
		"delay", delay,
	)
}

// Resolve cancels any pending escalation for the record and bumps the
// record version so a timer that already left the gate becomes a no-op.
// Cancellation is best-effort and never blocks.
func (m *EscalationManager) Resolve(recordID string) {
	m.mu.Lock()
	keys := m.byRec[recordID]
	delete(m.byRec, recordID)
	var cancelled []string
	for _, key := range keys {
		if t, ok := m.timers[key]; ok {
			t.Stop()
			delete(m.timers, key)
			cancelled = append(cancelled, key)
		}
	}
	m.mu.Unlock()

	if len(cancelled) == 0 {
		return
	}

	for _, key := range cancelled {
		slog.Info("Escalation cancelled by resolution", "record_id", recordID, "key", key)
	}
}

// Pending reports whether the record still has an armed timer.
func (m *EscalationManager) Pending(recordID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byRec[recordID]) > 0
}

func (m *EscalationManager) onFire(ctx context.Context, key string, task *EscalationTask) {
	m.mu.Lock()
	delete(m.timers, key)
	remaining := m.byRec[task.Record.RecordID][:0]
	for _, k := range m.byRec[task.Record.RecordID] {
		if k != key {
			remaining = append(remaining, k)
		}
	}
	if len(remaining) == 0 {
		delete(m.byRec, task.Record.RecordID)
	} else {
		m.byRec[task.Record.RecordID] = remaining
	}
	m.mu.Unlock()

	// A resolution that raced the timer bumped the record version.
	if task.Record.Version() != task.version {
		slog.Info("Escalation fired after resolution, skipping",
			"record_id", task.Record.RecordID,
			"rule_id", task.Rule.RuleID,
		)
		task.Record.SetAction(task.ActionKey, execution.ActionResult{
			Status: execution.StatusResolved,
			Detail: "resolved before escalation fired",
			At:     time.Now().UTC(),
		})
		return
	}

	resolved, err := m.checker.Resolved(ctx, task.Record.RecordID, task.Condition)
	if err != nil {
		slog.Error("Resolution check failed, escalating anyway",
			"record_id", task.Record.RecordID,
			"error", err,
		)
	}
	if resolved {
		task.Record.BumpVersion()
		task.Record.SetAction(task.ActionKey, execution.ActionResult{
			Status: execution.StatusResolved,
			Detail: "condition resolved before escalation",
			At:     time.Now().UTC(),
		})
		return
	}

	slog.Info("Escalation firing",
		"record_id", task.Record.RecordID,
		"rule_id", task.Rule.RuleID,
		"condition", task.Condition,
	)
	m.fire(ctx, task)
}
