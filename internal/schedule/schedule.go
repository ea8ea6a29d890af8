// Package schedule computes fire boundaries for schedule-type triggers.
// Boundaries are evaluated in the rule owner's timezone on cron schedules,
// which keeps DST transitions from skipping or doubling a boundary.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/freightdeck/pulse/internal/rules"
)

// maxBoundaryScan bounds the Next() walk when catching up after long
// downtime. At weekly granularity this covers decades.
const maxBoundaryScan = 1024

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSpec compiles a schedule trigger to a standard cron expression.
func CronSpec(t *rules.ScheduleTrigger) (string, error) {
	hour, minute, err := rules.ParseTimeOfDay(t.TimeOfDay)
	if err != nil {
		return "", err
	}
	switch t.Frequency {
	case rules.FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case rules.FrequencyWeekly:
		if len(t.Days) == 0 {
			return "", fmt.Errorf("weekly schedule requires at least one day")
		}
		days := make([]string, len(t.Days))
		for i, d := range t.Days {
			days[i] = strconv.Itoa(int(d))
		}
		return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(days, ",")), nil
	default:
		return "", fmt.Errorf("unknown frequency %q", t.Frequency)
	}
}

// Due returns the most recent fire boundary in (lastFired, now], evaluated
// in loc. Returns false when no boundary has been crossed. Repeated calls
// with the same lastFired and now return the same boundary, so firing is
// idempotent per period; after downtime the latest missed boundary is
// reported once and earlier missed boundaries are skipped.
func Due(t *rules.ScheduleTrigger, lastFired, now time.Time, loc *time.Location) (time.Time, bool, error) {
	if loc == nil {
		loc = time.UTC
	}
	spec, err := CronSpec(t)
	if err != nil {
		return time.Time{}, false, err
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse schedule spec %q: %w", spec, err)
	}

	// A rule with no firing history scans back at most one full period;
	// walking Next() forward from the zero time would exhaust the scan
	// bound and report an ancient boundary.
	if lastFired.IsZero() {
		lastFired = now.Add(-period(t))
	}

	var due time.Time
	cursor := lastFired.In(loc)
	for i := 0; i < maxBoundaryScan; i++ {
		next := sched.Next(cursor)
		if next.IsZero() || next.After(now.In(loc)) {
			break
		}
		due = next
		cursor = next
	}
	if due.IsZero() {
		return time.Time{}, false, nil
	}
	return due, true, nil
}

func period(t *rules.ScheduleTrigger) time.Duration {
	if t.Frequency == rules.FrequencyWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}
