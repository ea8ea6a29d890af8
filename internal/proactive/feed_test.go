package proactive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/freightdeck/pulse/internal/events"
	"github.com/freightdeck/pulse/internal/metrics"
)

type fakeAudit struct {
	mu     sync.Mutex
	events []*events.AuditEvent
}

func (f *fakeAudit) Publish(ctx context.Context, ev *events.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAudit) countKind(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func testFeed() (*Feed, *fakeAudit, time.Time) {
	audit := &fakeAudit{}
	feed := NewFeed(audit, metrics.NewCollector("test", nil))
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	feed.SetClock(func() time.Time { return now })
	return feed, audit, now
}

func TestFeed_AddAndActive(t *testing.T) {
	feed, audit, now := testFeed()
	ctx := context.Background()

	a := NewAlert(TypeWarning, "Carrier risk increasing", 82, ImpactHigh, now)
	if err := feed.Add(ctx, a); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := feed.Add(ctx, a); err == nil {
		t.Error("Add() duplicate error = nil, want already-exists")
	}

	active := feed.Active(now)
	if len(active) != 1 || active[0].AlertID != a.AlertID {
		t.Fatalf("Active() = %d alerts, want the added one", len(active))
	}
	if audit.countKind(events.KindAlertGenerated) != 1 {
		t.Errorf("alert_generated audits = %d, want 1", audit.countKind(events.KindAlertGenerated))
	}

	// Mutating the returned copy must not leak into the feed.
	active[0].Title = "mutated"
	got, _ := feed.Get(a.AlertID)
	if got.Title != "Carrier risk increasing" {
		t.Errorf("Get() title = %q after external mutation", got.Title)
	}
}

func TestFeed_DismissRemovesFromActiveKeepsHistory(t *testing.T) {
	feed, audit, now := testFeed()
	ctx := context.Background()

	a := NewAlert(TypeRecommendation, "Consolidate lanes", 70, ImpactMedium, now)
	if err := feed.Add(ctx, a); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := feed.Dismiss(ctx, a.AlertID); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}

	if got := feed.Active(now); len(got) != 0 {
		t.Errorf("Active() = %d alerts after dismiss, want 0", len(got))
	}
	history := feed.History()
	if len(history) != 1 {
		t.Fatalf("History() = %d alerts, want 1", len(history))
	}
	if history[0].Status(now) != StatusDismissed {
		t.Errorf("history status = %v, want dismissed", history[0].Status(now))
	}
	if history[0].DismissedAt == nil {
		t.Error("dismissed alert missing dismissal timestamp")
	}
	if audit.countKind(events.KindAlertDismissed) != 1 {
		t.Errorf("alert_dismissed audits = %d, want 1", audit.countKind(events.KindAlertDismissed))
	}

	// Dismissal is one-way and idempotent.
	if err := feed.Dismiss(ctx, a.AlertID); err != nil {
		t.Errorf("Dismiss() second call error = %v, want nil no-op", err)
	}
	if audit.countKind(events.KindAlertDismissed) != 1 {
		t.Error("second dismiss emitted another audit event")
	}

	if err := feed.Dismiss(ctx, "missing"); err == nil {
		t.Error("Dismiss() missing alert error = nil, want not-found")
	}
}

func TestFeed_RetiredIDNeverReenters(t *testing.T) {
	feed, _, now := testFeed()
	ctx := context.Background()

	a := NewAlert(TypeWarning, "Risk", 80, ImpactHigh, now)
	if err := feed.Add(ctx, a); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := feed.Dismiss(ctx, a.AlertID); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}

	again := NewAlert(TypeWarning, "Risk again", 80, ImpactHigh, now)
	again.AlertID = a.AlertID
	if err := feed.Add(ctx, again); err == nil {
		t.Error("Add() with retired id error = nil, want rejection")
	}
}

func TestFeed_ExpireDue(t *testing.T) {
	feed, audit, now := testFeed()
	ctx := context.Background()

	expiring := NewAlert(TypePrediction, "Volume spike expected", 65, ImpactMedium, now)
	expiry := now.Add(time.Hour)
	expiring.ExpiresAt = &expiry
	if err := feed.Add(ctx, expiring); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	evergreen := NewAlert(TypeOpportunity, "Rate negotiation window", 75, ImpactHigh, now)
	if err := feed.Add(ctx, evergreen); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Nothing due yet.
	if got := feed.ExpireDue(ctx, now); len(got) != 0 {
		t.Errorf("ExpireDue() = %d alerts before expiry, want 0", len(got))
	}

	later := now.Add(2 * time.Hour)
	expired := feed.ExpireDue(ctx, later)
	if len(expired) != 1 || expired[0].AlertID != expiring.AlertID {
		t.Fatalf("ExpireDue() = %d alerts, want the expiring one", len(expired))
	}
	if audit.countKind(events.KindAlertExpired) != 1 {
		t.Errorf("alert_expired audits = %d, want 1", audit.countKind(events.KindAlertExpired))
	}

	active := feed.Active(later)
	if len(active) != 1 || active[0].AlertID != evergreen.AlertID {
		t.Errorf("Active() = %d alerts after expiry, want only the evergreen one", len(active))
	}

	// A second sweep reports nothing new.
	if got := feed.ExpireDue(ctx, later); len(got) != 0 {
		t.Errorf("ExpireDue() repeat = %d alerts, want 0", len(got))
	}
}

func TestFeed_ExecuteAction(t *testing.T) {
	feed, audit, now := testFeed()
	ctx := context.Background()

	a := NewAlert(TypeRecommendation, "Switch carrier on lane 7", 78, ImpactMedium, now)
	a.SuggestedActions = []SuggestedAction{
		{ActionID: "switch-carrier", Label: "Switch carrier", Effort: "medium", Impact: "high"},
	}
	if err := feed.Add(ctx, a); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := feed.ExecuteAction(ctx, a.AlertID, "switch-carrier"); err != nil {
		t.Fatalf("ExecuteAction() error = %v", err)
	}
	if audit.countKind(events.KindAlertActionExecuted) != 1 {
		t.Errorf("action_executed audits = %d, want 1", audit.countKind(events.KindAlertActionExecuted))
	}
	// Default behavior: the alert stays active.
	if got := feed.Active(now); len(got) != 1 {
		t.Errorf("Active() = %d alerts after action, want 1", len(got))
	}

	if err := feed.ExecuteAction(ctx, a.AlertID, "unknown"); err == nil {
		t.Error("ExecuteAction() unknown action error = nil, want not-found")
	}
	if err := feed.ExecuteAction(ctx, "missing", "switch-carrier"); err == nil {
		t.Error("ExecuteAction() missing alert error = nil, want not-found")
	}
}

func TestFeed_ExecuteActionDismissWhenConfigured(t *testing.T) {
	feed, _, now := testFeed()
	feed.SetDismissOnAction(true)
	ctx := context.Background()

	a := NewAlert(TypeRecommendation, "Consolidate", 70, ImpactLow, now)
	a.SuggestedActions = []SuggestedAction{{ActionID: "do-it", Label: "Do it"}}
	if err := feed.Add(ctx, a); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := feed.ExecuteAction(ctx, a.AlertID, "do-it"); err != nil {
		t.Fatalf("ExecuteAction() error = %v", err)
	}
	if got := feed.Active(now); len(got) != 0 {
		t.Errorf("Active() = %d alerts, want 0 with dismiss-on-action", len(got))
	}
}

func TestAlert_Status(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := NewAlert(TypeWarning, "Risk", 80, ImpactHigh, now)

	if a.Status(now) != StatusActive {
		t.Errorf("Status() = %v, want active", a.Status(now))
	}

	expiry := now.Add(time.Hour)
	a.ExpiresAt = &expiry
	if a.Status(now.Add(2 * time.Hour)) != StatusExpired {
		t.Errorf("Status() = %v, want expired past expiry", a.Status(now.Add(2*time.Hour)))
	}
	// Expiry boundary itself is still active.
	if a.Status(expiry) != StatusActive {
		t.Errorf("Status() = %v at expiry instant, want active", a.Status(expiry))
	}

	// Dismissal wins over expiry.
	a.Dismissed = true
	if a.Status(now.Add(2 * time.Hour)) != StatusDismissed {
		t.Errorf("Status() = %v, want dismissed", a.Status(now.Add(2*time.Hour)))
	}
}
