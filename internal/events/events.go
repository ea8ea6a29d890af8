// Package events defines the event structures consumed from and published to Kafka.
package events

import "time"

// DomainEvent represents a typed domain event from the events topic.
// Payload carries event-specific fields; condition clauses evaluate against it.
type DomainEvent struct {
	EventID       string         `json:"event_id"`
	SchemaVersion int            `json:"schema_version"`
	Type          string         `json:"type"`
	SubjectID     string         `json:"subject_id"`
	EventTS       int64          `json:"event_ts"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Timestamp returns the event time as a time.Time.
func (e *DomainEvent) Timestamp() time.Time {
	return time.Unix(e.EventTS, 0).UTC()
}

// Audit event kinds published to the audit topic.
const (
	KindExecutionRecorded   = "execution_recorded"
	KindExecutionCompleted  = "execution_completed"
	KindEscalationFired     = "escalation_fired"
	KindEscalationResolved  = "escalation_resolved"
	KindAlertGenerated      = "alert_generated"
	KindAlertDismissed      = "alert_dismissed"
	KindAlertExpired        = "alert_expired"
	KindAlertActionExecuted = "alert_action_executed"
)

// AuditEvent is published to the audit topic for every execution record
// write and every proactive alert transition. It is the engine's only
// externally visible history stream.
type AuditEvent struct {
	Kind          string            `json:"kind"`
	SchemaVersion int               `json:"schema_version"`
	EventTS       int64             `json:"event_ts"`
	RecordID      string            `json:"record_id,omitempty"`
	RuleID        string            `json:"rule_id,omitempty"`
	SubjectID     string            `json:"subject_id,omitempty"`
	AlertID       string            `json:"alert_id,omitempty"`
	Detail        map[string]string `json:"detail,omitempty"`
}

// NewAuditEvent creates an audit event of the given kind stamped with now.
func NewAuditEvent(kind string, now time.Time) *AuditEvent {
	return &AuditEvent{
		Kind:          kind,
		SchemaVersion: 1,
		EventTS:       now.Unix(),
	}
}

// AcknowledgementType is the event type carrying a user acknowledgement of a
// notification. Escalation resolve conditions are driven by these events;
// the engine never infers read state on its own.
const AcknowledgementType = "notification_acknowledged"

// AcknowledgedRecordID extracts the acknowledged execution record id from an
// acknowledgement event payload. Returns "" if the event is not an
// acknowledgement or the payload lacks the field.
func AcknowledgedRecordID(e *DomainEvent) string {
	if e.Type != AcknowledgementType {
		return ""
	}
	if v, ok := e.Payload["record_id"].(string); ok {
		return v
	}
	return ""
}
