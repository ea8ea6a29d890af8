// Package rules defines notification rules: trigger and action specifications,
// validation, the update command model, and rule storage.
package rules

import "time"

// Priority is the rule priority level.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TriggerType discriminates the trigger variants.
type TriggerType string

const (
	TriggerEvent     TriggerType = "event"
	TriggerCondition TriggerType = "condition"
	TriggerSchedule  TriggerType = "schedule"
	TriggerLocation  TriggerType = "location"
	TriggerBehavior  TriggerType = "behavior"
)

// ActionType discriminates the action variants.
type ActionType string

const (
	ActionNotify   ActionType = "notify"
	ActionEscalate ActionType = "escalate"
	ActionUpdate   ActionType = "update"
	ActionWebhook  ActionType = "webhook"
)

// Operator is a condition clause comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpDelayedBy   Operator = "delayed_by"
)

// Valid reports whether o is a recognized operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpDelayedBy:
		return true
	}
	return false
}

// Frequency is a schedule trigger cadence.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// LocationKind discriminates location trigger matching modes.
type LocationKind string

const (
	LocationGeofence LocationKind = "geofence"
	LocationAddress  LocationKind = "address"
	LocationCity     LocationKind = "city"
	LocationCountry  LocationKind = "country"
)

// EventTrigger matches events by exact type.
type EventTrigger struct {
	EventType string `json:"event_type"`
}

// Clause is a single condition predicate over an event/state field.
// All clauses in a ConditionTrigger must pass (AND).
type Clause struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// ConditionTrigger matches when every clause passes.
type ConditionTrigger struct {
	Clauses []Clause `json:"clauses"`
}

// ScheduleTrigger fires on daily/weekly boundaries at a local time of day.
type ScheduleTrigger struct {
	Frequency Frequency      `json:"frequency"`
	TimeOfDay string         `json:"time_of_day"` // "HH:MM" in the owner's timezone
	Days      []time.Weekday `json:"days,omitempty"`
}

// LocationTrigger matches by geofence or exact address/city/country value.
type LocationTrigger struct {
	Kind     LocationKind `json:"kind"`
	Value    string       `json:"value"` // "lat,lon" for geofence
	RadiusKM float64      `json:"radius_km,omitempty"`
}

// BehaviorTrigger matches when a rolling-window count of a named pattern
// exceeds the threshold within the timeframe.
type BehaviorTrigger struct {
	Pattern          string `json:"pattern"`
	Threshold        int    `json:"threshold"`
	TimeframeMinutes int    `json:"timeframe_minutes"`
}

// Timeframe returns the rolling window as a duration.
func (b *BehaviorTrigger) Timeframe() time.Duration {
	return time.Duration(b.TimeframeMinutes) * time.Minute
}

// TriggerSpec is a tagged variant: exactly one of the pointer fields is set,
// matching Type.
type TriggerSpec struct {
	Type      TriggerType       `json:"type"`
	Event     *EventTrigger     `json:"event,omitempty"`
	Condition *ConditionTrigger `json:"condition,omitempty"`
	Schedule  *ScheduleTrigger  `json:"schedule,omitempty"`
	Location  *LocationTrigger  `json:"location,omitempty"`
	Behavior  *BehaviorTrigger  `json:"behavior,omitempty"`
}

// NotifyAction sends through the subject owner's enabled, verified channels.
type NotifyAction struct {
	Channels []string `json:"channels"`
	Template string   `json:"template"`
	Category string   `json:"category,omitempty"` // "account_security" bypasses quiet hours
}

// EscalateAction schedules a deferred re-notify with an amplified channel
// set, contingent on the resolve condition still being unmet.
type EscalateAction struct {
	DelayMinutes     int    `json:"delay_minutes"`
	ResolveCondition string `json:"resolve_condition"`
}

// Delay returns the escalation delay as a duration.
func (e *EscalateAction) Delay() time.Duration {
	return time.Duration(e.DelayMinutes) * time.Minute
}

// UpdateAction idempotently mutates a named field on the related resource.
type UpdateAction struct {
	TargetField string `json:"target_field"`
}

// WebhookAction posts the event payload to a configured URL.
type WebhookAction struct {
	URL string `json:"url"`
}

// ActionSpec is a tagged variant: exactly one of the pointer fields is set,
// matching Type.
type ActionSpec struct {
	Type     ActionType      `json:"type"`
	Notify   *NotifyAction   `json:"notify,omitempty"`
	Escalate *EscalateAction `json:"escalate,omitempty"`
	Update   *UpdateAction   `json:"update,omitempty"`
	Webhook  *WebhookAction  `json:"webhook,omitempty"`
}

// Rule is a notification rule owned by the account that created it.
type Rule struct {
	RuleID        string       `json:"rule_id"`
	AccountID     string       `json:"account_id"`
	Name          string       `json:"name"`
	Enabled       bool         `json:"enabled"`
	Priority      Priority     `json:"priority"`
	Trigger       TriggerSpec  `json:"trigger"`
	Actions       []ActionSpec `json:"actions"`
	TriggerCount  int64        `json:"trigger_count"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	// LastFired is the last schedule boundary this rule fired for.
	// Only set for schedule-trigger rules.
	LastFired *time.Time `json:"last_fired,omitempty"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Clone returns a deep-enough copy for safe concurrent evaluation:
// the trigger/action specs are treated as immutable after validation,
// so only the top-level struct and slices are copied.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Actions = make([]ActionSpec, len(r.Actions))
	copy(c.Actions, r.Actions)
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		c.LastTriggered = &t
	}
	if r.LastFired != nil {
		t := *r.LastFired
		c.LastFired = &t
	}
	return &c
}
