package events

import (
	"testing"
	"time"
)

func TestTimestamp(t *testing.T) {
	e := &DomainEvent{EventTS: 1770000000}

	got := e.Timestamp()
	want := time.Unix(1770000000, 0).UTC()
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", got.Location())
	}
}

func TestNewAuditEvent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	ae := NewAuditEvent(KindExecutionRecorded, now)
	if ae.Kind != KindExecutionRecorded {
		t.Errorf("expected kind %q, got %q", KindExecutionRecorded, ae.Kind)
	}
	if ae.SchemaVersion != 1 {
		t.Errorf("expected schema version 1, got %d", ae.SchemaVersion)
	}
	if ae.EventTS != now.Unix() {
		t.Errorf("expected event ts %d, got %d", now.Unix(), ae.EventTS)
	}
}

func TestAcknowledgedRecordID(t *testing.T) {
	tests := []struct {
		name  string
		event *DomainEvent
		want  string
	}{
		{
			name: "acknowledgement with record id",
			event: &DomainEvent{
				Type:    AcknowledgementType,
				Payload: map[string]any{"record_id": "rec-1"},
			},
			want: "rec-1",
		},
		{
			name: "wrong event type",
			event: &DomainEvent{
				Type:    "shipment_exception",
				Payload: map[string]any{"record_id": "rec-1"},
			},
			want: "",
		},
		{
			name:  "missing payload",
			event: &DomainEvent{Type: AcknowledgementType},
			want:  "",
		},
		{
			name: "record id wrong type",
			event: &DomainEvent{
				Type:    AcknowledgementType,
				Payload: map[string]any{"record_id": 42},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AcknowledgedRecordID(tt.event); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
