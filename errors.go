package onboard

import (
	"errors"
	"fmt"
)

var (
	// ErrCreationFailed is used when the remote call fails without an error value.
	ErrCreationFailed = errors.New("onboard: remote creation failed")
	// ErrConsistencyViolation reports a UUID collision with diverging identity.
	ErrConsistencyViolation = errors.New("onboard: cache consistency violation")
	// ErrMissingUUID rejects records without an identifier.
	ErrMissingUUID = errors.New("onboard: record uuid is required")
	// ErrNoSteps indicates an empty schema set.
	ErrNoSteps = errors.New("onboard: at least one step is required")
	// ErrDuplicateStep indicates a step name was registered twice.
	ErrDuplicateStep = errors.New("onboard: step names must be unique")
	// ErrUnknownStep indicates a submit or lookup for a step that is not registered.
	ErrUnknownStep = errors.New("onboard: unknown step")
	// ErrStepOutOfOrder indicates a submit for a step whose predecessors are missing.
	ErrStepOutOfOrder = errors.New("onboard: step submitted out of order")
	// ErrSubmitInProgress indicates a second submit while the terminal action runs.
	ErrSubmitInProgress = errors.New("onboard: submit already in progress")
	// ErrNoTerminalAction indicates the last step was submitted without an action.
	ErrNoTerminalAction = errors.New("onboard: terminal action not configured")
	// ErrFlowAbandoned reports a creation that settled after the flow was abandoned.
	ErrFlowAbandoned = errors.New("onboard: flow abandoned")
)

// ConsistencyError describes a merge that would change an immutable identity
// field of an existing record.
type ConsistencyError struct {
	UUID     string
	Field    string
	Existing any
	Incoming any
}

func (e *ConsistencyError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v: uuid=%s field=%s existing=%v incoming=%v", ErrConsistencyViolation, e.UUID, e.Field, e.Existing, e.Incoming)
}

// Is matches ErrConsistencyViolation.
func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistencyViolation
}
