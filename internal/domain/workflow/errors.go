package workflow

import (
	"errors"
	"fmt"
)

// ErrPatientNotFound reports that no patient matches the presented token.
// Handlers translate it to 404 without distinguishing "never existed" from
// "token revoked".
var ErrPatientNotFound = errors.New("patient not found")

// InvalidTransitionError reports an attempt to complete or access a step
// out of order.
type InvalidTransitionError struct {
	Step    Step
	Current Step
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition to %s (current step %s): %s", e.Step, e.Current, e.Reason)
}

// ContentNotReadyError reports that a step's prerequisites are ordered
// correctly but its required content has not been produced yet, such as
// reaching the recommendations step before any recommendation exists.
type ContentNotReadyError struct {
	Step    Step
	Missing string
}

func (e *ContentNotReadyError) Error() string {
	return fmt.Sprintf("step %s not ready: missing %s", e.Step, e.Missing)
}

// IsInvalidTransition reports whether err is an ordering violation.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

// IsContentNotReady reports whether err is a content gate failure.
func IsContentNotReady(err error) bool {
	var e *ContentNotReadyError
	return errors.As(err, &e)
}
