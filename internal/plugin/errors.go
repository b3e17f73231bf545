package plugin

import "errors"

// Domain errors for the plugin package.
var (
	// ErrInvalidPlugin is returned when a plugin or its manifest is malformed.
	ErrInvalidPlugin = errors.New("plugin: invalid")

	// ErrPluginExists is returned when a plugin name is registered twice.
	ErrPluginExists = errors.New("plugin: already registered")

	// ErrUnknownPlugin is returned when a plugin name is not registered.
	ErrUnknownPlugin = errors.New("plugin: unknown plugin")

	// ErrUnknownAction is returned when a plugin has no such action.
	ErrUnknownAction = errors.New("plugin: unknown action")

	// ErrUnknownTrigger is returned when a plugin has no such trigger.
	ErrUnknownTrigger = errors.New("plugin: unknown trigger")

	// ErrInvalidSchema is returned when a JSON schema in a manifest does not compile.
	ErrInvalidSchema = errors.New("plugin: invalid schema")

	// ErrSchemaValidation is returned when a payload does not satisfy its schema.
	ErrSchemaValidation = errors.New("plugin: schema validation failed")
)
