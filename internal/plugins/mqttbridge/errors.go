package mqttbridge

import "errors"

var (
	// ErrInvalidBinding is returned when a binding lacks a topic or key.
	ErrInvalidBinding = errors.New("mqttbridge: invalid binding")

	// ErrFieldNotFound is returned when a binding's field is missing from the payload.
	ErrFieldNotFound = errors.New("mqttbridge: field not found in payload")

	// ErrNotInitialised is returned when the plugin is used before Init.
	ErrNotInitialised = errors.New("mqttbridge: plugin not initialised")
)
