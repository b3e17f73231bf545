// Package plugin defines the contract between cuebox and its integrations.
//
// A plugin contributes three things: typed state cells, triggers it raises
// when something happens in the outside world, and actions automations can
// invoke. Plugins are registered once at startup in a Registry, which is
// passed by reference to the queue, the dispatcher and the profile manager.
package plugin

import (
	"context"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/state"
)

// Plugin is an integration.
type Plugin interface {
	// Name is the plugin's unique id, used as the state namespace and as
	// the plugin part of "plugin.action" and "plugin.trigger".
	Name() string

	// Manifest describes what the plugin contributes.
	Manifest() Manifest
}

// Initializer is implemented by plugins that need the Host before use.
// Init runs once, after the plugin's state cells are defined.
type Initializer interface {
	Init(ctx context.Context, host Host) error
}

// Closer is implemented by plugins holding external resources.
type Closer interface {
	Close() error
}

// Manifest lists a plugin's contributions.
type Manifest struct {
	Description string

	// State becomes one cell per entry, namespaced by the plugin name.
	State []state.Spec

	Actions  []ActionDef
	Triggers []TriggerDef

	// Helpers are exposed to templates under the plugin's namespace,
	// next to its state values.
	Helpers map[string]any
}

// ActionDef defines one invocable action.
type ActionDef struct {
	ID          string
	Description string

	// DataSchema is an optional JSON schema for the action's data.
	DataSchema string

	// Handler runs the action. It may be nil only for actions the queue
	// runs itself.
	Handler automation.ActionHandler
}

// TriggerDef defines one trigger a plugin can raise.
type TriggerDef struct {
	ID          string
	Description string

	// ConfigSchema is an optional JSON schema for mapping configs.
	ConfigSchema string

	// ContextSchema is an optional JSON schema for the values the plugin
	// passes when it raises the trigger.
	ContextSchema string

	// Handler filters mappings. A nil Handler matches every mapping.
	Handler TriggerHandler
}

// TriggerHandler decides whether one mapping should start its automation.
type TriggerHandler interface {
	Match(ctx context.Context, config any, ac *automation.Context, m Mapping, extra ...any) (bool, error)
}

// TriggerFunc adapts a function to TriggerHandler.
type TriggerFunc func(ctx context.Context, config any, ac *automation.Context, m Mapping, extra ...any) (bool, error)

// Match calls f.
func (f TriggerFunc) Match(ctx context.Context, config any, ac *automation.Context, m Mapping, extra ...any) (bool, error) {
	return f(ctx, config, ac, m, extra...)
}

// Mapping binds one trigger of one profile to an automation.
type Mapping struct {
	// ID identifies the mapping; generated when the profile file omits it.
	ID string `yaml:"id,omitempty" json:"id"`

	// Profile is the owning profile, set when the profile is loaded.
	Profile string `yaml:"-" json:"profile"`

	// Config is opaque to the engine; only the trigger's handler reads it.
	Config any `yaml:"config,omitempty" json:"config,omitempty"`

	Automation automation.Ref `yaml:"automation" json:"automation"`
}

// Logger is the logging interface handed to plugins.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Host is the engine as seen by one plugin. State calls are scoped to the
// plugin's own namespace.
type Host interface {
	// GetState reads one of the plugin's cells.
	GetState(key string) (any, bool)

	// SetState writes one of the plugin's cells. Unchanged values notify nobody.
	SetState(key string, value any) error

	// DefineState adds a cell at runtime.
	DefineState(spec state.Spec) error

	// RemoveState deletes a cell at runtime.
	RemoveState(key string) error

	// Trigger raises one of the plugin's triggers. It reports whether any
	// mapping started an automation.
	Trigger(ctx context.Context, trigger string, values map[string]any, extra ...any) bool

	// RedoDependencies rebuilds every profile watcher. Call it after the
	// set of state keys changes.
	RedoDependencies()

	// Logger returns a logger tagged with the plugin name.
	Logger() Logger
}
