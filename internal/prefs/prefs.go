// Package prefs defines the Preference Store consumed by the engine:
// per-owner channel enablement and verification, quiet-hours windows, and
// timezones. The engine reads preferences, never writes them.
package prefs

import (
	"context"
	"sync"
	"time"
)

// ChannelPreference describes one channel's state for an account.
type ChannelPreference struct {
	Channel  string `json:"channel"` // email, sms, push, in_app
	Enabled  bool   `json:"enabled"`
	Verified bool   `json:"verified"`
}

// QuietHours is an account's quiet-hours window in its local timezone.
// Start and End are "HH:MM"; a window may cross midnight.
type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Store is the Preference Store interface.
type Store interface {
	// Owner resolves the account owning a subject.
	Owner(ctx context.Context, subjectID string) (string, error)

	// Channels returns the account's channel preferences.
	Channels(ctx context.Context, accountID string) ([]ChannelPreference, error)

	// QuietHours returns the account's quiet-hours window, or nil when
	// the account has none configured.
	QuietHours(ctx context.Context, accountID string) (*QuietHours, error)

	// Timezone returns the account's timezone, defaulting to UTC.
	Timezone(ctx context.Context, accountID string) (*time.Location, error)
}

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu         sync.RWMutex
	owners     map[string]string
	channels   map[string][]ChannelPreference
	quietHours map[string]*QuietHours
	timezones  map[string]string
}

// NewMemoryStore creates an empty preference store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners:     make(map[string]string),
		channels:   make(map[string][]ChannelPreference),
		quietHours: make(map[string]*QuietHours),
		timezones:  make(map[string]string),
	}
}

// SetOwner maps a subject to its owning account.
func (s *MemoryStore) SetOwner(subjectID, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[subjectID] = accountID
}

// SetChannels replaces an account's channel preferences.
func (s *MemoryStore) SetChannels(accountID string, prefs []ChannelPreference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[accountID] = prefs
}

// SetQuietHours sets an account's quiet-hours window.
func (s *MemoryStore) SetQuietHours(accountID string, qh *QuietHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quietHours[accountID] = qh
}

// SetTimezone sets an account's timezone name.
func (s *MemoryStore) SetTimezone(accountID, tz string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timezones[accountID] = tz
}

// Owner resolves the account owning a subject. Unmapped subjects resolve to
// themselves, which keeps single-tenant setups configuration-free.
func (s *MemoryStore) Owner(ctx context.Context, subjectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if owner, ok := s.owners[subjectID]; ok {
		return owner, nil
	}
	return subjectID, nil
}

// Channels returns the account's channel preferences.
func (s *MemoryStore) Channels(ctx context.Context, accountID string) ([]ChannelPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefs := s.channels[accountID]
	out := make([]ChannelPreference, len(prefs))
	copy(out, prefs)
	return out, nil
}

// QuietHours returns the account's quiet-hours window, or nil.
func (s *MemoryStore) QuietHours(ctx context.Context, accountID string) (*QuietHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qh, ok := s.quietHours[accountID]
	if !ok {
		return nil, nil
	}
	copied := *qh
	return &copied, nil
}

// Timezone returns the account's timezone, defaulting to UTC.
func (s *MemoryStore) Timezone(ctx context.Context, accountID string) (*time.Location, error) {
	s.mu.RLock()
	name, ok := s.timezones[accountID]
	s.mu.RUnlock()
	if !ok {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// EnabledVerified filters preferences down to channels that are both
// enabled and verified.
func EnabledVerified(prefs []ChannelPreference) map[string]bool {
	out := make(map[string]bool)
	for _, p := range prefs {
		if p.Enabled && p.Verified {
			out[p.Channel] = true
		}
	}
	return out
}
