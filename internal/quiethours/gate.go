// Package quiethours decides whether a channel send is allowed, suppressed,
// or bypasses the subject owner's quiet-hours window, and queues suppressed
// sends for a single flush at window end.
package quiethours

import (
	"fmt"
	"time"

	"github.com/freightdeck/pulse/internal/prefs"
	"github.com/freightdeck/pulse/internal/rules"
)

// Decision is the gate's verdict for a candidate send.
type Decision int

const (
	// Allow delivers immediately: no window, or outside it.
	Allow Decision = iota
	// Suppress queues the send for delivery at window end.
	Suppress
	// Bypass delivers immediately despite an active window.
	Bypass
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Suppress:
		return "suppress"
	case Bypass:
		return "bypass"
	default:
		return "unknown"
	}
}

// BypassCategory always bypasses quiet hours regardless of priority.
const BypassCategory = "account_security"

// Evaluate decides the fate of a candidate send. Urgent priority and the
// account_security category always bypass. Otherwise a send inside the
// window [start, end) in the owner's local time is suppressed; windows may
// cross midnight. A malformed window fails open (Allow) so a bad preference
// cannot silently swallow notifications.
func Evaluate(qh *prefs.QuietHours, priority rules.Priority, category string, now time.Time) Decision {
	if priority == rules.PriorityUrgent || category == BypassCategory {
		if qh == nil {
			return Allow
		}
		in, err := inWindow(qh, now)
		if err != nil || !in {
			return Allow
		}
		return Bypass
	}
	if qh == nil {
		return Allow
	}
	in, err := inWindow(qh, now)
	if err != nil || !in {
		return Allow
	}
	return Suppress
}

// FlushAt returns the moment the window containing now ends, in UTC.
// Returns an error when now is not inside the window.
func FlushAt(qh *prefs.QuietHours, now time.Time) (time.Time, error) {
	loc, startMin, endMin, err := parseWindow(qh)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := midnight.Add(time.Duration(endMin) * time.Minute)

	if startMin <= endMin {
		// Same-day window.
		if minuteOfDay < startMin || minuteOfDay >= endMin {
			return time.Time{}, fmt.Errorf("time %s is outside quiet hours %s-%s", local.Format("15:04"), qh.Start, qh.End)
		}
		return end.UTC(), nil
	}

	// Window crosses midnight.
	switch {
	case minuteOfDay >= startMin:
		// Evening side: flush at tomorrow's end.
		return end.AddDate(0, 0, 1).UTC(), nil
	case minuteOfDay < endMin:
		// Morning side: flush at today's end.
		return end.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("time %s is outside quiet hours %s-%s", local.Format("15:04"), qh.Start, qh.End)
	}
}

func inWindow(qh *prefs.QuietHours, now time.Time) (bool, error) {
	loc, startMin, endMin, err := parseWindow(qh)
	if err != nil {
		return false, err
	}
	if startMin == endMin {
		// Zero-length window suppresses nothing.
		return false, nil
	}
	local := now.In(loc)
	minuteOfDay := local.Hour()*60 + local.Minute()
	if startMin < endMin {
		return minuteOfDay >= startMin && minuteOfDay < endMin, nil
	}
	// Crosses midnight: in window when after start or before end.
	return minuteOfDay >= startMin || minuteOfDay < endMin, nil
}

func parseWindow(qh *prefs.QuietHours) (*time.Location, int, int, error) {
	startH, startM, err := rules.ParseTimeOfDay(qh.Start)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("invalid quiet hours start: %w", err)
	}
	endH, endM, err := rules.ParseTimeOfDay(qh.End)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("invalid quiet hours end: %w", err)
	}
	loc := time.UTC
	if qh.Timezone != "" {
		loc, err = time.LoadLocation(qh.Timezone)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("invalid quiet hours timezone %q: %w", qh.Timezone, err)
		}
	}
	return loc, startH*60 + startM, endH*60 + endM, nil
}
