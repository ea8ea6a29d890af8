// Package matcher provides pure predicate evaluation of condition clauses
// over typed event and state fields.
package matcher

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/freightdeck/pulse/internal/rules"
)

// MatchClauses reports whether every clause passes against the fields
// (clauses are AND-combined). A clause referencing a missing field or a
// field of an incompatible type fails closed: the evaluation error is
// logged at debug level and the result is no match, never an error.
// Deterministic and side-effect-free for the same (fields, clauses, now).
func MatchClauses(clauses []rules.Clause, fields map[string]any, now time.Time) bool {
	for _, c := range clauses {
		ok, err := matchClause(c, fields, now)
		if err != nil {
			slog.Debug("Clause evaluation failed, treating as non-match",
				"field", c.Field,
				"operator", c.Operator,
				"error", err,
			)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func matchClause(c rules.Clause, fields map[string]any, now time.Time) (bool, error) {
	raw, ok := fields[c.Field]
	if !ok {
		return false, fmt.Errorf("field %q not present", c.Field)
	}

	switch c.Operator {
	case rules.OpEquals:
		return equals(raw, c.Value), nil
	case rules.OpNotEquals:
		return !equals(raw, c.Value), nil
	case rules.OpGreaterThan:
		a, b, err := numericPair(raw, c.Value)
		if err != nil {
			return false, err
		}
		return a > b, nil
	case rules.OpLessThan:
		a, b, err := numericPair(raw, c.Value)
		if err != nil {
			return false, err
		}
		return a < b, nil
	case rules.OpContains:
		haystack, err := asString(raw)
		if err != nil {
			return false, err
		}
		needle, err := asString(c.Value)
		if err != nil {
			return false, err
		}
		return strings.Contains(haystack, needle), nil
	case rules.OpDelayedBy:
		expected, err := asTime(raw)
		if err != nil {
			return false, err
		}
		minutes, err := asNumber(c.Value)
		if err != nil {
			return false, err
		}
		return now.Sub(expected) >= time.Duration(minutes*float64(time.Minute)), nil
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

// equals compares numerically when both sides are numeric, otherwise by
// string form. JSON decoding yields float64 for all numbers, so numeric
// comparison avoids "1500" != 1500 surprises.
func equals(a, b any) bool {
	na, errA := asNumber(a)
	nb, errB := asNumber(b)
	if errA == nil && errB == nil {
		return na == nb
	}
	sa, errA := asString(a)
	sb, errB := asString(b)
	if errA != nil || errB != nil {
		return false
	}
	return sa == sb
}

func numericPair(a, b any) (float64, float64, error) {
	na, err := asNumber(a)
	if err != nil {
		return 0, 0, err
	}
	nb, err := asNumber(b)
	if err != nil {
		return 0, 0, err
	}
	return na, nb, nil
}

func asNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case nil:
		return 0, fmt.Errorf("value is nil, not a number")
	default:
		return 0, fmt.Errorf("value %v (%T) is not a number", v, v)
	}
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case bool:
		return fmt.Sprintf("%t", s), nil
	case float64:
		// Trim the fractional part for whole numbers so payload ints
		// decoded as float64 compare naturally.
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s)), nil
		}
		return fmt.Sprintf("%v", s), nil
	case nil:
		return "", fmt.Errorf("value is nil, not a string")
	default:
		return fmt.Sprintf("%v", s), nil
	}
}

// asTime accepts RFC 3339 strings and unix-second numbers.
func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("value %q is not an RFC 3339 timestamp: %w", t, err)
		}
		return parsed, nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	case time.Time:
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("value %v (%T) is not a timestamp", v, v)
	}
}
