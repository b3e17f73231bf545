package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/dispatch"
	"github.com/nerrad567/cuebox/internal/library"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/profile"
	"github.com/nerrad567/cuebox/internal/state"
)

// Logger is the logging interface used by the Engine.
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

// Config holds the infrastructure an Engine is built on.
type Config struct {
	// SyncGap is the pause between consecutive sync automations.
	SyncGap time.Duration

	// Store persists serialized state cells (may be nil).
	Store state.Store

	// Runs records and serves the automation run log (may be nil).
	Runs automation.RunRepository

	Logger Logger

	// PluginLogger returns the logger handed to one plugin (may be nil).
	PluginLogger func(name string) plugin.Logger
}

// Engine composes the state graph, the plugins, the automation queue,
// the trigger dispatcher and the profile manager.
//
// Lifecycle:
//
//	e := engine.New(cfg)
//	e.Register(clock.New(...))      // plugins, before Start
//	e.Start(ctx)                    // Init plugins, restore state
//	e.LoadLibrary(lib)              // automations, then profiles
//	e.Ready(ctx)                    // raise core.started
//	...
//	e.Close(ctx)
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	graph       *state.Graph
	plugins     *plugin.Registry
	automations *automation.Registry
	queue       *automation.Queue
	dispatcher  *dispatch.Dispatcher
	profiles    *profile.Manager
	persister   *state.Persister
	store       state.Store
	runs        automation.RunRepository
	bus         *bus
	logger      Logger

	pluginLogger func(name string) plugin.Logger

	mu      sync.Mutex
	hosts   map[string]*host
	started bool
	closed  bool
}

// New creates an Engine with the core plugin registered.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	e := &Engine{
		graph:        state.NewGraph(),
		plugins:      plugin.NewRegistry(),
		automations:  automation.NewRegistry(),
		store:        cfg.Store,
		runs:         cfg.Runs,
		bus:          &bus{},
		logger:       cfg.Logger,
		pluginLogger: cfg.PluginLogger,
		hosts:        make(map[string]*host),
	}
	e.plugins.SetLogger(cfg.Logger)
	e.automations.SetLogger(cfg.Logger)

	qcfg := automation.QueueConfig{
		Actions:     e.plugins,
		Automations: e.automations,
		Env:         e,
		Hub:         e.bus,
		SyncGap:     cfg.SyncGap,
		Logger:      cfg.Logger,
	}
	if cfg.Runs != nil {
		qcfg.Recorder = cfg.Runs
	}
	e.queue = automation.NewQueue(qcfg)
	e.dispatcher = dispatch.NewDispatcher(e.plugins, e.queue, cfg.Logger)
	e.profiles = profile.NewManager(profile.Config{
		Graph:   e.graph,
		Plugins: e.plugins,
		Starter: e.queue,
		Table:   e.dispatcher,
		Hub:     e.bus,
		Logger:  cfg.Logger,
	})

	if cfg.Store != nil {
		e.persister = state.NewPersister(e.graph, cfg.Store)
		e.persister.SetLogger(cfg.Logger)
	}

	e.graph.OnChange(func(ch state.Change) {
		e.bus.Broadcast(ChannelStateChanged, ch)
	})

	if err := e.Register(corePlugin{}); err != nil {
		panic(fmt.Sprintf("engine: registering core plugin: %v", err))
	}
	return e
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Register adds a plugin and defines its state cells.
// Plugins must be registered before Start.
//
// Returns:
//   - error: ErrAlreadyStarted, a plugin.Registry error, or a state definition error
func (e *Engine) Register(p plugin.Plugin) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started {
		return ErrAlreadyStarted
	}

	if err := e.plugins.Register(p); err != nil {
		return err
	}

	name := p.Name()
	manifest, _ := e.plugins.Manifest(name)
	for _, spec := range manifest.State {
		if err := e.graph.Define(name, spec); err != nil {
			return fmt.Errorf("defining %s state: %w", name, err)
		}
	}

	e.mu.Lock()
	e.hosts[name] = &host{e: e, name: name, logger: e.loggerFor(name)}
	e.mu.Unlock()
	return nil
}

func (e *Engine) loggerFor(name string) plugin.Logger {
	if e.pluginLogger != nil {
		if l := e.pluginLogger(name); l != nil {
			return l
		}
	}
	return taggedLogger{base: e.logger, args: []any{"plugin", name}}
}

func (e *Engine) host(name string) *host {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hosts[name]
}

// Start initialises every plugin in registration order, then restores
// serialized state and begins persisting it.
//
// ctx bounds the lifetime of anything plugins start in Init.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	for _, p := range e.plugins.Plugins() {
		init, ok := p.(plugin.Initializer)
		if !ok {
			continue
		}
		if err := init.Init(ctx, e.host(p.Name())); err != nil {
			return fmt.Errorf("initialising plugin %s: %w", p.Name(), err)
		}
		e.logger.Debug("plugin initialised", "plugin", p.Name())
	}

	if e.persister != nil {
		restored, err := e.persister.Restore(ctx)
		if err != nil {
			return fmt.Errorf("restoring state: %w", err)
		}
		e.persister.Attach()
		e.logger.Info("state restored", "values", restored)
	}

	e.logger.Info("engine started", "plugins", len(e.plugins.Names()))
	return nil
}

// LoadLibrary installs every automation, then loads every profile with a
// single recombination.
//
// Invalid definitions are skipped and reported together in the returned
// error; the valid ones are installed.
func (e *Engine) LoadLibrary(lib *library.Library) error {
	if lib == nil {
		lib = &library.Library{}
	}

	var errs []error
	valid := make([]*automation.Automation, 0, len(lib.Automations))
	for _, a := range lib.Automations {
		if err := e.plugins.ValidateAutomation(a); err != nil {
			errs = append(errs, fmt.Errorf("automation %s: %w", a.Name, err))
			continue
		}
		valid = append(valid, a)
	}
	if err := e.automations.Replace(valid); err != nil {
		errs = append(errs, err)
	}

	if err := e.profiles.LoadAll(lib.Profiles); err != nil {
		errs = append(errs, err)
	}

	status := e.profiles.Status()
	e.logger.Info("library loaded",
		"automations", len(e.automations.Names()),
		"profiles", len(e.profiles.Names()),
		"active", len(status.Active),
		"rejected", len(errs),
	)
	return errors.Join(errs...)
}

// Validate checks lib against the registered plugins without installing
// anything: action data, trigger configs, inline automations and
// references to named automations. Every problem is reported.
func (e *Engine) Validate(lib *library.Library) error {
	if lib == nil {
		return nil
	}

	var errs []error
	names := make(map[string]bool, len(lib.Automations))
	for _, a := range lib.Automations {
		names[a.Name] = true
		if err := e.plugins.ValidateAutomation(a); err != nil {
			errs = append(errs, fmt.Errorf("automation %s: %w", a.Name, err))
		}
	}

	checkRef := func(profileName, where string, ref automation.Ref) {
		switch {
		case ref.Inline != nil:
			if err := e.plugins.ValidateAutomation(ref.Inline); err != nil {
				errs = append(errs, fmt.Errorf("profile %s: %s: %w", profileName, where, err))
			}
		case ref.Name != "" && !names[ref.Name] && !e.automations.Has(ref.Name):
			errs = append(errs, fmt.Errorf("profile %s: %s: %w: %s", profileName, where, automation.ErrNotFound, ref.Name))
		}
	}

	for _, p := range lib.Profiles {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("profile %s: %w", p.Name, err))
			continue
		}
		for pluginName, triggers := range p.Triggers {
			for trigger, mappings := range triggers {
				for _, mp := range mappings {
					if err := e.plugins.ValidateTriggerConfig(pluginName, trigger, mp.Config); err != nil {
						errs = append(errs, fmt.Errorf("profile %s: %w", p.Name, err))
					}
					checkRef(p.Name, pluginName+"."+trigger, mp.Automation)
				}
			}
		}
		checkRef(p.Name, "on_activate", p.OnActivate)
		checkRef(p.Name, "on_deactivate", p.OnDeactivate)
	}
	return errors.Join(errs...)
}

// Ready raises core.started. It reports whether any mapping started an automation.
func (e *Engine) Ready(ctx context.Context) bool {
	return e.dispatcher.Trigger(ctx, automation.CorePlugin, TriggerStarted,
		map[string]any{"started_at": time.Now().UTC().Format(time.RFC3339)})
}

// Close stops accepting automations, waits for running ones until ctx
// expires, disposes every profile watcher and closes plugins in reverse
// registration order.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	e.profiles.Close()
	if err := e.queue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing queue: %w", err))
	}

	plugins := e.plugins.Plugins()
	for i := len(plugins) - 1; i >= 0; i-- {
		c, ok := plugins[i].(plugin.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing plugin %s: %w", plugins[i].Name(), err))
		}
	}

	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

// Observe attaches an observer to every broadcast.
func (e *Engine) Observe(o Observer) {
	e.bus.attach(o)
}

// ─── Operations ─────────────────────────────────────────────────────────────

// StartAutomation starts a named automation with the given caller values.
//
// Returns:
//   - string: the run ID
//   - error: automation.ErrNotFound, a prep error, or automation.ErrQueueClosed
func (e *Engine) StartAutomation(name string, values map[string]any, source string) (string, error) {
	return e.queue.Start(automation.Named(name), e.queue.NewContext(values), source)
}

// RunActions validates and runs an ad-hoc async list of actions.
func (e *Engine) RunActions(actions []automation.Action, values map[string]any, source string) (string, error) {
	if err := e.plugins.ValidateAutomation(&automation.Automation{Actions: actions}); err != nil {
		return "", err
	}
	return e.queue.RunActions(actions, e.queue.NewContext(values), source)
}

// Trigger raises plugin.trigger from outside the plugin, as the API does.
//
// Returns:
//   - bool: true if any mapping started an automation
//   - error: plugin.ErrUnknownPlugin, plugin.ErrUnknownTrigger or ErrTriggerContext
func (e *Engine) Trigger(ctx context.Context, pluginName, trigger string, values map[string]any) (bool, error) {
	if _, ok := e.plugins.Get(pluginName); !ok {
		return false, fmt.Errorf("%w: %s", plugin.ErrUnknownPlugin, pluginName)
	}
	if _, ok := e.plugins.Trigger(pluginName, trigger); !ok {
		return false, fmt.Errorf("%w: %s.%s", plugin.ErrUnknownTrigger, pluginName, trigger)
	}
	if err := e.plugins.ValidateTriggerContext(pluginName, trigger, values); err != nil {
		return false, fmt.Errorf("%w: %w", ErrTriggerContext, err)
	}
	return e.dispatcher.Trigger(ctx, pluginName, trigger, values), nil
}

// PluginEnv implements automation.EnvSource: each plugin's helpers plus a
// fresh copy of its state. State keys win over helpers of the same name.
func (e *Engine) PluginEnv() map[string]map[string]any {
	env := e.plugins.Helpers()
	for _, name := range e.graph.Plugins() {
		ns, ok := env[name]
		if !ok {
			ns = make(map[string]any)
			env[name] = ns
		}
		for k, v := range e.graph.PluginSnapshot(name) {
			ns[k] = v
		}
	}
	return env
}

// Status summarises the engine for health endpoints.
type Status struct {
	Plugins     []string       `json:"plugins"`
	Profiles    profile.Status `json:"profiles"`
	Automations int            `json:"automations"`
	PendingSync int            `json:"pending_sync"`
	StateSeq    uint64         `json:"state_seq"`
}

// Status returns a summary of the engine.
func (e *Engine) Status() Status {
	return Status{
		Plugins:     e.plugins.Names(),
		Profiles:    e.profiles.Status(),
		Automations: len(e.automations.Names()),
		PendingSync: e.queue.Pending(),
		StateSeq:    e.graph.Seq(),
	}
}

// ─── Accessors ──────────────────────────────────────────────────────────────

// Graph returns the state graph.
func (e *Engine) Graph() *state.Graph { return e.graph }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Automations returns the automation registry.
func (e *Engine) Automations() *automation.Registry { return e.automations }

// Profiles returns the profile manager.
func (e *Engine) Profiles() *profile.Manager { return e.profiles }

// Queue returns the automation queue.
func (e *Engine) Queue() *automation.Queue { return e.queue }

// Runs returns the run log, or nil when none is configured.
func (e *Engine) Runs() automation.RunRepository { return e.runs }
