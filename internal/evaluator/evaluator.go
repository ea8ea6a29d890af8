// Package evaluator classifies and evaluates all trigger kinds against
// incoming events and periodic scans, producing matched rules.
package evaluator

import (
	"log/slog"
	"math"
	"time"

	"github.com/freightdeck/pulse/internal/events"
	"github.com/freightdeck/pulse/internal/matcher"
	"github.com/freightdeck/pulse/internal/rules"
	"github.com/freightdeck/pulse/internal/schedule"
)

// Match pairs a matched rule with the subject it fired for.
type Match struct {
	Rule      *rules.Rule
	SubjectID string
	// Boundary is set for schedule-trigger matches only: the fire
	// boundary that was crossed. It doubles as the dedup bucket so a
	// boundary fires at most once across restarts.
	Boundary time.Time
}

// LocationResolver maps an account to its timezone for schedule evaluation.
type LocationResolver func(accountID string) *time.Location

// Evaluator evaluates rules against events and scan ticks. Evaluation is a
// pure function of (event/state, rule); the behavior tracker is read-only
// during evaluation, so matches for different rules can be computed in
// parallel.
type Evaluator struct {
	tracker *BehaviorTracker
}

// NewEvaluator creates an evaluator backed by the given behavior tracker.
func NewEvaluator(tracker *BehaviorTracker) *Evaluator {
	return &Evaluator{tracker: tracker}
}

// Tracker exposes the behavior tracker so the ingest path can record
// pattern occurrences before evaluation.
func (e *Evaluator) Tracker() *BehaviorTracker {
	return e.tracker
}

// EvaluateEvent returns the enabled rules whose trigger matches the event.
// Schedule triggers never match on the event path; they fire from scans.
func (e *Evaluator) EvaluateEvent(ev *events.DomainEvent, ruleset []*rules.Rule, now time.Time) []Match {
	var matches []Match
	for _, r := range ruleset {
		if !r.Enabled {
			continue
		}
		if e.matchesEvent(r, ev, now) {
			matches = append(matches, Match{Rule: r, SubjectID: ev.SubjectID})
		}
	}
	return matches
}

// EvaluateScan returns schedule-trigger rules whose fire boundary has been
// crossed since their last firing. The subject of a schedule match is the
// rule's owning account.
func (e *Evaluator) EvaluateScan(ruleset []*rules.Rule, now time.Time, resolve LocationResolver) []Match {
	var matches []Match
	for _, r := range ruleset {
		if !r.Enabled || r.Trigger.Type != rules.TriggerSchedule || r.Trigger.Schedule == nil {
			continue
		}
		lastFired := r.CreatedAt
		if r.LastFired != nil {
			lastFired = *r.LastFired
		}
		loc := time.UTC
		if resolve != nil {
			if l := resolve(r.AccountID); l != nil {
				loc = l
			}
		}
		boundary, due, err := schedule.Due(r.Trigger.Schedule, lastFired, now, loc)
		if err != nil {
			slog.Debug("Schedule evaluation failed, treating as non-match",
				"rule_id", r.RuleID,
				"error", err,
			)
			continue
		}
		if due {
			matches = append(matches, Match{Rule: r, SubjectID: r.AccountID, Boundary: boundary})
		}
	}
	return matches
}

func (e *Evaluator) matchesEvent(r *rules.Rule, ev *events.DomainEvent, now time.Time) bool {
	switch r.Trigger.Type {
	case rules.TriggerEvent:
		return r.Trigger.Event != nil && ev.Type == r.Trigger.Event.EventType
	case rules.TriggerCondition:
		return r.Trigger.Condition != nil && matcher.MatchClauses(r.Trigger.Condition.Clauses, ev.Payload, now)
	case rules.TriggerLocation:
		return r.Trigger.Location != nil && matchesLocation(r.Trigger.Location, ev.Payload)
	case rules.TriggerBehavior:
		t := r.Trigger.Behavior
		if t == nil {
			return false
		}
		return e.tracker.Count(t.Pattern, ev.SubjectID, t.Timeframe(), now) > t.Threshold
	case rules.TriggerSchedule:
		return false
	default:
		return false
	}
}

func matchesLocation(t *rules.LocationTrigger, payload map[string]any) bool {
	switch t.Kind {
	case rules.LocationGeofence:
		lat, ok1 := payloadNumber(payload, "lat")
		lon, ok2 := payloadNumber(payload, "lon")
		if !ok1 || !ok2 {
			return false
		}
		centerLat, centerLon, err := rules.ParseLatLon(t.Value)
		if err != nil {
			return false
		}
		return haversineKM(centerLat, centerLon, lat, lon) <= t.RadiusKM
	case rules.LocationAddress, rules.LocationCity, rules.LocationCountry:
		v, ok := payload[string(t.Kind)].(string)
		return ok && v == t.Value
	default:
		return false
	}
}

func payloadNumber(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

const earthRadiusKM = 6371.0

// haversineKM returns the great-circle distance between two coordinates.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
