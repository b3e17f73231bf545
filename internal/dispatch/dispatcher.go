package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/plugin"
)

// Logger defines the logging interface used by the Dispatcher.
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

// TriggerLookup finds trigger definitions. *plugin.Registry implements it.
type TriggerLookup interface {
	Trigger(plugin, id string) (plugin.TriggerDef, bool)
}

// Starter starts automations. *automation.Queue implements it.
type Starter interface {
	NewContext(values map[string]any) *automation.Context
	Start(ref automation.Ref, ac *automation.Context, source string) (string, error)
}

// Dispatcher evaluates trigger mappings against the live table.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	table    atomic.Pointer[Table]
	triggers TriggerLookup
	starter  Starter
	logger   Logger
}

// NewDispatcher creates a Dispatcher with an empty table.
func NewDispatcher(triggers TriggerLookup, starter Starter, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	d := &Dispatcher{triggers: triggers, starter: starter, logger: logger}
	empty := Table{}
	d.table.Store(&empty)
	return d
}

// Install replaces the live table. t must not be modified afterwards.
func (d *Dispatcher) Install(t Table) {
	if t == nil {
		t = Table{}
	}
	d.table.Store(&t)
	d.logger.Debug("dispatch table installed", "mappings", t.Len())
}

// Table returns the live table. Callers must not modify it.
func (d *Dispatcher) Table() Table {
	return *d.table.Load()
}

// Trigger raises pluginName.trigger with values as the automation context.
//
// Every mapping bound to the trigger gets exactly one evaluation: the
// trigger's handler decides whether it matches, and a trigger without a
// handler matches always. A failing or panicking handler is logged and
// only skips its own mapping.
//
// Returns true when at least one mapping started its automation. A trigger
// with no mappings returns false.
func (d *Dispatcher) Trigger(ctx context.Context, pluginName, trigger string, values map[string]any, extra ...any) bool {
	mappings := d.Table().Mappings(pluginName, trigger)
	if len(mappings) == 0 {
		return false
	}

	var handler plugin.TriggerHandler
	if d.triggers != nil {
		if def, ok := d.triggers.Trigger(pluginName, trigger); ok {
			handler = def.Handler
		} else {
			d.logger.Warn("unknown trigger has mappings", "plugin", pluginName, "trigger", trigger)
		}
	}

	ac := d.starter.NewContext(values)
	source := "trigger:" + pluginName + "." + trigger
	started := false

	for _, m := range mappings {
		matched, err := match(ctx, handler, ac, m, extra)
		if err != nil {
			d.logger.Error("trigger handler failed",
				"plugin", pluginName, "trigger", trigger, "profile", m.Profile, "mapping", m.ID, "error", err)
			continue
		}
		if !matched {
			continue
		}

		runID, err := d.starter.Start(m.Automation, ac, source)
		if err != nil {
			d.logger.Error("failed to start automation",
				"plugin", pluginName, "trigger", trigger, "profile", m.Profile,
				"automation", m.Automation.String(), "error", err)
			continue
		}
		started = true
		d.logger.Debug("trigger started automation",
			"plugin", pluginName, "trigger", trigger, "profile", m.Profile,
			"automation", m.Automation.String(), "run_id", runID)
	}
	return started
}

// match runs one handler, converting a panic into an error.
func match(ctx context.Context, h plugin.TriggerHandler, ac *automation.Context, m plugin.Mapping, extra []any) (ok bool, err error) {
	if h == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Match(ctx, m.Config, ac, m, extra...)
}
