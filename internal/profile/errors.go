package profile

import "errors"

// Domain errors for the profile package.
var (
	// ErrNotFound is returned when a profile name does not exist.
	ErrNotFound = errors.New("profile: not found")

	// ErrInvalidProfile is returned when a profile definition is malformed.
	ErrInvalidProfile = errors.New("profile: invalid")

	// ErrInvalidName is returned when a profile name is empty or too long.
	ErrInvalidName = errors.New("profile: invalid name")
)
