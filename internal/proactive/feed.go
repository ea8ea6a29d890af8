package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/freightdeck/pulse/internal/events"
	"github.com/freightdeck/pulse/internal/metrics"
)

// AuditPublisher publishes alert lifecycle transitions to the audit stream.
type AuditPublisher interface {
	Publish(ctx context.Context, ev *events.AuditEvent) error
}

// Feed holds proactive alerts: the active view plus the full history for
// audit queries. A dismissed or expired alert never re-enters the active
// feed under the same id.
type Feed struct {
	mu     sync.RWMutex
	alerts map[string]*Alert
	// terminal remembers ids that reached a terminal state, so a re-add
	// under a retired id is rejected even after history pruning.
	terminal map[string]Status

	audit   AuditPublisher
	metrics *metrics.Collector
	// dismissOnAction makes executing a suggested action dismiss the
	// alert. Off by default.
	dismissOnAction bool
	clock           func() time.Time
}

// NewFeed creates an empty alert feed.
func NewFeed(audit AuditPublisher, collector *metrics.Collector) *Feed {
	return &Feed{
		alerts:   make(map[string]*Alert),
		terminal: make(map[string]Status),
		audit:    audit,
		metrics:  collector,
		clock:    time.Now,
	}
}

// SetDismissOnAction configures whether executing a suggested action
// dismisses the alert.
func (f *Feed) SetDismissOnAction(v bool) {
	f.dismissOnAction = v
}

// SetClock overrides the feed clock. Test use only.
func (f *Feed) SetClock(clock func() time.Time) {
	f.clock = clock
}

// Add inserts a generated alert into the feed.
func (f *Feed) Add(ctx context.Context, a *Alert) error {
	f.mu.Lock()
	if st, retired := f.terminal[a.AlertID]; retired {
		f.mu.Unlock()
		return fmt.Errorf("alert %s already retired (%s)", a.AlertID, st)
	}
	if _, exists := f.alerts[a.AlertID]; exists {
		f.mu.Unlock()
		return fmt.Errorf("alert already exists: %s", a.AlertID)
	}
	f.alerts[a.AlertID] = a.Clone()
	f.mu.Unlock()

	f.metrics.Inc(metrics.AlertsGenerated)
	ev := events.NewAuditEvent(events.KindAlertGenerated, f.clock().UTC())
	ev.AlertID = a.AlertID
	ev.Detail = map[string]string{
		"type":       string(a.Type),
		"impact":     string(a.Impact),
		"confidence": fmt.Sprintf("%d", a.Confidence),
	}
	f.publish(ctx, ev)
	return nil
}

// Active returns alerts still active as of now: not dismissed, not past
// their expiry.
func (f *Feed) Active(now time.Time) []*Alert {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Alert
	for _, a := range f.alerts {
		if a.Status(now) == StatusActive {
			out = append(out, a.Clone())
		}
	}
	return out
}

// History returns every alert the feed has seen, terminal ones included.
func (f *Feed) History() []*Alert {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Alert, 0, len(f.alerts))
	for _, a := range f.alerts {
		out = append(out, a.Clone())
	}
	return out
}

// Get returns an alert by id.
func (f *Feed) Get(alertID string) (*Alert, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert not found: %s", alertID)
	}
	return a.Clone(), nil
}

// Dismiss retires an alert. Dismissal is one-way: dismissing an already
// terminal alert is a no-op, and the alert stays queryable in history.
func (f *Feed) Dismiss(ctx context.Context, alertID string) error {
	now := f.clock().UTC()

	f.mu.Lock()
	a, ok := f.alerts[alertID]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("alert not found: %s", alertID)
	}
	if a.Status(now) != StatusActive {
		f.mu.Unlock()
		return nil
	}
	a.Dismissed = true
	a.DismissedAt = &now
	f.terminal[alertID] = StatusDismissed
	f.mu.Unlock()

	f.metrics.Inc(metrics.AlertsDismissed)
	ev := events.NewAuditEvent(events.KindAlertDismissed, now)
	ev.AlertID = alertID
	f.publish(ctx, ev)
	return nil
}

// ExpireDue marks alerts past their expiry as terminal and reports them.
// Expiry is automatic and needs no user action.
func (f *Feed) ExpireDue(ctx context.Context, now time.Time) []*Alert {
	f.mu.Lock()
	var expired []*Alert
	for id, a := range f.alerts {
		if _, done := f.terminal[id]; done {
			continue
		}
		if a.Status(now) == StatusExpired {
			f.terminal[id] = StatusExpired
			expired = append(expired, a.Clone())
		}
	}
	f.mu.Unlock()

	for _, a := range expired {
		f.metrics.Inc(metrics.AlertsExpired)
		ev := events.NewAuditEvent(events.KindAlertExpired, now)
		ev.AlertID = a.AlertID
		f.publish(ctx, ev)
	}
	return expired
}

// ExecuteAction emits an audit event for a suggested action. The alert is
// only dismissed when the feed is configured for it.
func (f *Feed) ExecuteAction(ctx context.Context, alertID, actionID string) error {
	f.mu.RLock()
	a, ok := f.alerts[alertID]
	if !ok {
		f.mu.RUnlock()
		return fmt.Errorf("alert not found: %s", alertID)
	}
	var found bool
	for _, sa := range a.SuggestedActions {
		if sa.ActionID == actionID {
			found = true
			break
		}
	}
	f.mu.RUnlock()
	if !found {
		return fmt.Errorf("action %s not found on alert %s", actionID, alertID)
	}

	ev := events.NewAuditEvent(events.KindAlertActionExecuted, f.clock().UTC())
	ev.AlertID = alertID
	ev.Detail = map[string]string{"action_id": actionID}
	f.publish(ctx, ev)

	if f.dismissOnAction {
		return f.Dismiss(ctx, alertID)
	}
	return nil
}

func (f *Feed) publish(ctx context.Context, ev *events.AuditEvent) {
	if f.audit == nil {
		return
	}
	if err := f.audit.Publish(ctx, ev); err != nil {
		slog.Error("Failed to publish alert audit event",
			"kind", ev.Kind,
			"alert_id", ev.AlertID,
			"error", err,
		)
	}
}
