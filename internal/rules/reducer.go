package rules

import (
	"fmt"
	"time"
)

// Update is the explicit command model for rule edits. Only the fields set
// (non-nil) are applied; every edit flows through Apply so partial updates
// cannot produce an unvalidated rule.
type Update struct {
	Name     *string       `json:"name,omitempty"`
	Enabled  *bool         `json:"enabled,omitempty"`
	Priority *Priority     `json:"priority,omitempty"`
	Trigger  *TriggerSpec  `json:"trigger,omitempty"`
	Actions  *[]ActionSpec `json:"actions,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u *Update) Empty() bool {
	return u.Name == nil && u.Enabled == nil && u.Priority == nil && u.Trigger == nil && u.Actions == nil
}

// Apply reduces an update onto a rule, returning the updated copy.
// The result is re-validated in full; an invalid result leaves the
// original rule untouched. Version is bumped on every successful apply,
// so in-flight evaluations of the previous version are detectable.
func Apply(r *Rule, u *Update, now time.Time) (*Rule, error) {
	if u.Empty() {
		return nil, fmt.Errorf("update contains no fields")
	}

	next := r.Clone()
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
	}
	if u.Trigger != nil {
		next.Trigger = *u.Trigger
	}
	if u.Actions != nil {
		next.Actions = make([]ActionSpec, len(*u.Actions))
		copy(next.Actions, *u.Actions)
	}

	if err := Validate(next); err != nil {
		return nil, err
	}

	next.Version = r.Version + 1
	next.UpdatedAt = now
	return next, nil
}
