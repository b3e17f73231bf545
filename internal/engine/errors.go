package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrNotStarted is returned by operations that need Start to have run.
	ErrNotStarted = errors.New("engine: not started")

	// ErrAlreadyStarted is returned when registering a plugin or starting twice.
	ErrAlreadyStarted = errors.New("engine: already started")

	// ErrTriggerContext is returned when trigger values fail the trigger's context schema.
	ErrTriggerContext = errors.New("engine: invalid trigger context")
)
