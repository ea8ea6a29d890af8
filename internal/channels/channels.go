// Package channels defines the Channel Sender strategy interface and the
// registry routing sends to the right transport. Real transports (email,
// SMS, push providers) live outside the engine; they plug in here.
package channels

import (
	"context"
	"sync"
)

// Message is a channel-agnostic notification to deliver.
type Message struct {
	RecordID  string         `json:"record_id"`
	RuleID    string         `json:"rule_id"`
	SubjectID string         `json:"subject_id"`
	Template  string         `json:"template"`
	Payload   map[string]any `json:"payload,omitempty"`
	// Escalated marks the amplified follow-up send of an escalation.
	Escalated bool `json:"escalated,omitempty"`
}

// Sender is the interface all channel transports implement.
type Sender interface {
	// Send delivers the message to the account through this channel.
	Send(ctx context.Context, accountID string, msg Message) error

	// Type returns the channel this sender handles (e.g. "email", "sms").
	Type() string
}

// Registry manages channel sender strategies.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry creates an empty sender registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// Register registers a sender strategy.
func (r *Registry) Register(sender Sender) {
	r.senders[sender.Type()] = sender
}

// Get retrieves a sender strategy by channel type.
func (r *Registry) Get(channel string) (Sender, bool) {
	sender, ok := r.senders[channel]
	return sender, ok
}

// List returns all registered channel types.
func (r *Registry) List() []string {
	types := make([]string, 0, len(r.senders))
	for t := range r.senders {
		types = append(types, t)
	}
	return types
}

// MemorySender records sends in memory. Used in tests and as the in-app
// channel for local runs.
type MemorySender struct {
	channel string

	mu    sync.Mutex
	sends []RecordedSend
	fail  func(accountID string, msg Message) error
}

// RecordedSend is one delivery captured by a MemorySender.
type RecordedSend struct {
	AccountID string
	Message   Message
}

// NewMemorySender creates a recording sender for the given channel type.
func NewMemorySender(channel string) *MemorySender {
	return &MemorySender{channel: channel}
}

// FailWith makes subsequent sends return the error produced by fn.
func (s *MemorySender) FailWith(fn func(accountID string, msg Message) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Send records the delivery.
func (s *MemorySender) Send(ctx context.Context, accountID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(accountID, msg); err != nil {
			return err
		}
	}
	s.sends = append(s.sends, RecordedSend{AccountID: accountID, Message: msg})
	return nil
}

// Type returns the channel type.
func (s *MemorySender) Type() string {
	return s.channel
}

// Sends returns a copy of all recorded deliveries.
func (s *MemorySender) Sends() []RecordedSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedSend, len(s.sends))
	copy(out, s.sends)
	return out
}
