package quiethours

import (
	"context"
	"testing"
	"time"

	"github.com/freightdeck/pulse/internal/channels"
)

func TestQueue_LatestWins(t *testing.T) {
	q := NewQueue()
	flushAt := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	q.Enqueue(&Pending{
		AccountID: "acct-1",
		Channel:   "in_app",
		RecordID:  "rec-1",
		Message:   channels.Message{RecordID: "rec-1"},
		FlushAt:   flushAt,
	})
	q.Enqueue(&Pending{
		AccountID: "acct-1",
		Channel:   "in_app",
		RecordID:  "rec-2",
		Message:   channels.Message{RecordID: "rec-2"},
		FlushAt:   flushAt,
	})
	// Different channel for the same account keeps its own slot.
	q.Enqueue(&Pending{
		AccountID: "acct-1",
		Channel:   "email",
		RecordID:  "rec-3",
		FlushAt:   flushAt,
	})

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after collapse", q.Len())
	}

	due := q.TakeDue(flushAt)
	if len(due) != 2 {
		t.Fatalf("TakeDue() = %d pending, want 2", len(due))
	}
	for _, p := range due {
		if p.Channel == "in_app" && p.RecordID != "rec-2" {
			t.Errorf("TakeDue() kept record %s for in_app, want the latest rec-2", p.RecordID)
		}
	}
}

func TestQueue_TakeDue(t *testing.T) {
	q := NewQueue()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	q.Enqueue(&Pending{AccountID: "acct-1", Channel: "in_app", FlushAt: now.Add(-time.Minute)})
	q.Enqueue(&Pending{AccountID: "acct-2", Channel: "in_app", FlushAt: now.Add(time.Hour)})

	due := q.TakeDue(now)
	if len(due) != 1 || due[0].AccountID != "acct-1" {
		t.Fatalf("TakeDue() = %v, want only acct-1", due)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 remaining", q.Len())
	}

	// Taken entries are gone: a second scan delivers nothing.
	if again := q.TakeDue(now); len(again) != 0 {
		t.Errorf("TakeDue() second call = %d pending, want 0", len(again))
	}
}

func TestFlusher_FlushDue(t *testing.T) {
	q := NewQueue()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	var delivered []*Pending
	f := NewFlusher(q, time.Second, func(ctx context.Context, p *Pending) {
		delivered = append(delivered, p)
	})

	q.Enqueue(&Pending{AccountID: "acct-1", Channel: "in_app", RecordID: "rec-1", FlushAt: now})
	q.Enqueue(&Pending{AccountID: "acct-2", Channel: "in_app", RecordID: "rec-2", FlushAt: now.Add(time.Hour)})

	f.FlushDue(context.Background(), now)
	if len(delivered) != 1 || delivered[0].RecordID != "rec-1" {
		t.Fatalf("FlushDue() delivered %v, want only rec-1", delivered)
	}

	f.FlushDue(context.Background(), now.Add(time.Hour))
	if len(delivered) != 2 {
		t.Errorf("FlushDue() delivered %d total, want 2", len(delivered))
	}
}
