package prefs

import (
	"context"
	"testing"
	"time"
)

func TestOwnerDefaultsToSubject(t *testing.T) {
	store := NewMemoryStore()
	store.SetOwner("shp-42", "acct-1")

	ctx := context.Background()
	owner, err := store.Owner(ctx, "shp-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "acct-1" {
		t.Errorf("expected acct-1, got %q", owner)
	}

	// Unmapped subjects own themselves.
	owner, err = store.Owner(ctx, "shp-99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "shp-99" {
		t.Errorf("expected shp-99, got %q", owner)
	}
}

func TestChannelsReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.SetChannels("acct-1", []ChannelPreference{
		{Channel: "email", Enabled: true, Verified: true},
	})

	ctx := context.Background()
	got, err := store.Channels(ctx, "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got[0].Enabled = false

	again, _ := store.Channels(ctx, "acct-1")
	if !again[0].Enabled {
		t.Error("mutating the returned slice must not affect the store")
	}
}

func TestQuietHours(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	qh, err := store.QuietHours(ctx, "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qh != nil {
		t.Errorf("expected nil for unconfigured account, got %+v", qh)
	}

	store.SetQuietHours("acct-1", &QuietHours{Start: "22:00", End: "08:00", Timezone: "America/Chicago"})
	qh, err = store.QuietHours(ctx, "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qh == nil || qh.Start != "22:00" || qh.End != "08:00" {
		t.Errorf("unexpected window: %+v", qh)
	}

	// Returned window is a copy.
	qh.Start = "23:00"
	again, _ := store.QuietHours(ctx, "acct-1")
	if again.Start != "22:00" {
		t.Error("mutating the returned window must not affect the store")
	}
}

func TestTimezone(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	loc, err := store.Timezone(ctx, "acct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != time.UTC {
		t.Errorf("expected UTC default, got %v", loc)
	}

	store.SetTimezone("acct-1", "America/New_York")
	loc, err = store.Timezone(ctx, "acct-1")
	if err != nil {
		t.Skipf("timezone database unavailable: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Errorf("expected America/New_York, got %v", loc)
	}

	store.SetTimezone("acct-2", "Not/AZone")
	if _, err := store.Timezone(ctx, "acct-2"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestEnabledVerified(t *testing.T) {
	got := EnabledVerified([]ChannelPreference{
		{Channel: "email", Enabled: true, Verified: true},
		{Channel: "sms", Enabled: true, Verified: false},
		{Channel: "push", Enabled: false, Verified: true},
		{Channel: "in_app", Enabled: true, Verified: true},
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 usable channels, got %d: %v", len(got), got)
	}
	if !got["email"] || !got["in_app"] {
		t.Errorf("expected email and in_app, got %v", got)
	}
}
