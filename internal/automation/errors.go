package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrNotFound) {
//	    // unknown automation name
//	}
var (
	// ErrNotFound is returned when an automation name does not exist.
	ErrNotFound = errors.New("automation: not found")

	// ErrInvalidAutomation is returned when automation validation fails.
	ErrInvalidAutomation = errors.New("automation: invalid")

	// ErrInvalidAction is returned when an action is malformed.
	ErrInvalidAction = errors.New("automation: invalid action")

	// ErrInvalidName is returned when an automation name is empty or too long.
	ErrInvalidName = errors.New("automation: invalid name")

	// ErrNoActions is returned when an automation has no actions.
	ErrNoActions = errors.New("automation: no actions")

	// ErrRecursionLimit is returned when sub-automations nest too deeply.
	ErrRecursionLimit = errors.New("automation: sub-automation nesting too deep")

	// ErrQueueClosed is returned when pushing to a queue that has shut down.
	ErrQueueClosed = errors.New("automation: queue closed")

	// ErrActionPanic is returned when a plugin action handler panics.
	ErrActionPanic = errors.New("automation: action handler panicked")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("automation: run not found")
)
