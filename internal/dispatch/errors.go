// Package dispatch executes a rule's ordered action list: notify, escalate,
// update, and webhook, coordinating with the quiet hours gate and
// escalation timers. One action's failure never blocks its siblings.
package dispatch

import (
	"errors"
	"fmt"
)

// TransientError marks a dispatch failure worth retrying: timeouts, 5xx
// responses, connection resets.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient dispatch error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a dispatch failure that must not be retried: 4xx
// responses, invalid addresses, or exhausted retries. It is recorded on the
// execution record and never raised to the caller.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent dispatch error in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is a permanent dispatch failure.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
