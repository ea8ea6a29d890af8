package rules

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError describes a malformed rule spec. Rules failing validation
// are rejected at create/update time and never persisted or evaluated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the rule spec for structural correctness: exactly one
// trigger variant matching its type tag, a non-empty action list with each
// action carrying exactly its own variant, and a recognized priority.
func Validate(r *Rule) error {
	if r.Name == "" {
		return invalid("name", "cannot be empty")
	}
	if r.AccountID == "" {
		return invalid("account_id", "cannot be empty")
	}
	if !r.Priority.Valid() {
		return invalid("priority", "unknown priority %q", r.Priority)
	}
	if err := validateTrigger(&r.Trigger); err != nil {
		return err
	}
	if len(r.Actions) == 0 {
		return invalid("actions", "cannot be empty")
	}
	for i := range r.Actions {
		if err := validateAction(i, &r.Actions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateTrigger(t *TriggerSpec) error {
	variants := 0
	if t.Event != nil {
		variants++
	}
	if t.Condition != nil {
		variants++
	}
	if t.Schedule != nil {
		variants++
	}
	if t.Location != nil {
		variants++
	}
	if t.Behavior != nil {
		variants++
	}
	if variants != 1 {
		return invalid("trigger", "exactly one trigger variant required, got %d", variants)
	}

	switch t.Type {
	case TriggerEvent:
		if t.Event == nil {
			return invalid("trigger.event", "missing variant for type %q", t.Type)
		}
		if t.Event.EventType == "" {
			return invalid("trigger.event.event_type", "cannot be empty")
		}
	case TriggerCondition:
		if t.Condition == nil {
			return invalid("trigger.condition", "missing variant for type %q", t.Type)
		}
		if len(t.Condition.Clauses) == 0 {
			return invalid("trigger.condition.clauses", "cannot be empty")
		}
		for i, c := range t.Condition.Clauses {
			if c.Field == "" {
				return invalid(fmt.Sprintf("trigger.condition.clauses[%d].field", i), "cannot be empty")
			}
			if !c.Operator.Valid() {
				return invalid(fmt.Sprintf("trigger.condition.clauses[%d].operator", i), "unknown operator %q", c.Operator)
			}
		}
	case TriggerSchedule:
		if t.Schedule == nil {
			return invalid("trigger.schedule", "missing variant for type %q", t.Type)
		}
		return validateSchedule(t.Schedule)
	case TriggerLocation:
		if t.Location == nil {
			return invalid("trigger.location", "missing variant for type %q", t.Type)
		}
		return validateLocation(t.Location)
	case TriggerBehavior:
		if t.Behavior == nil {
			return invalid("trigger.behavior", "missing variant for type %q", t.Type)
		}
		if t.Behavior.Pattern == "" {
			return invalid("trigger.behavior.pattern", "cannot be empty")
		}
		if t.Behavior.Threshold <= 0 {
			return invalid("trigger.behavior.threshold", "must be > 0")
		}
		if t.Behavior.TimeframeMinutes <= 0 {
			return invalid("trigger.behavior.timeframe_minutes", "must be > 0")
		}
	default:
		return invalid("trigger.type", "unknown trigger type %q", t.Type)
	}
	return nil
}

func validateSchedule(s *ScheduleTrigger) error {
	switch s.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if len(s.Days) == 0 {
			return invalid("trigger.schedule.days", "weekly schedule requires at least one day")
		}
	default:
		return invalid("trigger.schedule.frequency", "unknown frequency %q", s.Frequency)
	}
	if _, _, err := ParseTimeOfDay(s.TimeOfDay); err != nil {
		return invalid("trigger.schedule.time_of_day", "%v", err)
	}
	return nil
}

func validateLocation(l *LocationTrigger) error {
	switch l.Kind {
	case LocationGeofence:
		if l.RadiusKM <= 0 {
			return invalid("trigger.location.radius_km", "geofence requires radius > 0")
		}
		if _, _, err := ParseLatLon(l.Value); err != nil {
			return invalid("trigger.location.value", "%v", err)
		}
	case LocationAddress, LocationCity, LocationCountry:
		if l.Value == "" {
			return invalid("trigger.location.value", "cannot be empty")
		}
	default:
		return invalid("trigger.location.kind", "unknown location kind %q", l.Kind)
	}
	return nil
}

func validateAction(i int, a *ActionSpec) error {
	field := func(name string) string { return fmt.Sprintf("actions[%d].%s", i, name) }

	variants := 0
	if a.Notify != nil {
		variants++
	}
	if a.Escalate != nil {
		variants++
	}
	if a.Update != nil {
		variants++
	}
	if a.Webhook != nil {
		variants++
	}
	if variants != 1 {
		return invalid(field("type"), "exactly one action variant required, got %d", variants)
	}

	switch a.Type {
	case ActionNotify:
		if a.Notify == nil {
			return invalid(field("notify"), "missing variant for type %q", a.Type)
		}
		if len(a.Notify.Channels) == 0 {
			return invalid(field("notify.channels"), "cannot be empty")
		}
		if a.Notify.Template == "" {
			return invalid(field("notify.template"), "cannot be empty")
		}
	case ActionEscalate:
		if a.Escalate == nil {
			return invalid(field("escalate"), "missing variant for type %q", a.Type)
		}
		if a.Escalate.DelayMinutes <= 0 {
			return invalid(field("escalate.delay_minutes"), "must be > 0")
		}
		if a.Escalate.ResolveCondition == "" {
			return invalid(field("escalate.resolve_condition"), "cannot be empty")
		}
	case ActionUpdate:
		if a.Update == nil {
			return invalid(field("update"), "missing variant for type %q", a.Type)
		}
		if a.Update.TargetField == "" {
			return invalid(field("update.target_field"), "cannot be empty")
		}
	case ActionWebhook:
		if a.Webhook == nil {
			return invalid(field("webhook"), "missing variant for type %q", a.Type)
		}
		u, err := url.Parse(a.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid(field("webhook.url"), "must be a valid HTTP/HTTPS URL")
		}
	default:
		return invalid(field("type"), "unknown action type %q", a.Type)
	}
	return nil
}

// ParseTimeOfDay parses an "HH:MM" string into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("must be in HH:MM format, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour must be 0-23, got %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute must be 0-59, got %q", parts[1])
	}
	return hour, minute, nil
}

// ParseLatLon parses a "lat,lon" string into coordinates.
func ParseLatLon(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("must be in lat,lon format, got %q", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude must be -90..90, got %q", parts[0])
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("longitude must be -180..180, got %q", parts[1])
	}
	return lat, lon, nil
}
