package variables

import "errors"

var (
	// ErrUnknownVariable is returned when a variable name is not defined.
	ErrUnknownVariable = errors.New("variables: unknown variable")

	// ErrNotNumeric is returned when incrementing a non-number variable.
	ErrNotNumeric = errors.New("variables: variable is not a number")

	// ErrInvalidFile is returned when the variables file is malformed.
	ErrInvalidFile = errors.New("variables: invalid file")

	// ErrNotInitialised is returned when the plugin is used before Init.
	ErrNotInitialised = errors.New("variables: plugin not initialised")
)
