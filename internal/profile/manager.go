package profile

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/cuebox/internal/condition"
	"github.com/nerrad567/cuebox/internal/dispatch"
	"github.com/nerrad567/cuebox/internal/state"
)

// Logger defines the logging interface used by the Manager.
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

// Installer receives each merged dispatch table. *dispatch.Dispatcher implements it.
type Installer interface {
	Install(t dispatch.Table)
}

// WSHub is the interface for broadcasting profile changes to observers.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// ChannelProfilesChanged is the hub channel activation changes are broadcast on.
const ChannelProfilesChanged = "profiles.changed"

// Status is the active/inactive partition of the loaded profiles.
type Status struct {
	Active   []string `json:"active"`
	Inactive []string `json:"inactive"`
}

func (s Status) equal(o Status) bool {
	return sameNames(s.Active, o.Active) && sameNames(s.Inactive, o.Inactive)
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Config holds the collaborators of a Manager.
type Config struct {
	// Graph is the state the conditions read. Required.
	Graph *state.Graph

	// Plugins receives lifecycle hooks and validates trigger configs (may be nil).
	Plugins PluginSet

	// Starter runs on_activate and on_deactivate automations. Required.
	Starter dispatch.Starter

	// Table receives the merged trigger table after every recombination. Required.
	Table Installer

	// Hub receives a Status whenever the partition changes (may be nil).
	Hub WSHub

	Logger Logger
}

// entry is one loaded profile.
type entry struct {
	profile *Profile
	watcher *state.Watcher
	state   State
}

// Manager owns the loaded profiles and keeps the dispatch table in step
// with which of them are active.
//
// Every profile has a Watcher subscribed to the state its conditions read.
// When one of those cells changes the Manager recombines: it evaluates every
// profile, starts activation and deactivation automations on edges, merges
// the triggers of the active profiles and installs the result.
//
// Recombination is serialized. A request that arrives while a pass is
// running, including one caused by the pass itself, marks the Manager dirty
// and the running pass goes round again.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	graph   *state.Graph
	plugins PluginSet
	starter dispatch.Starter
	table   Installer
	hub     WSHub
	logger  Logger

	mu          sync.Mutex
	profiles    map[string]*entry
	loading     bool
	dirty       bool
	recombining bool
	lastStatus  Status

	// evaluatedSeq is the graph sequence number the last pass had seen.
	evaluatedSeq uint64

	passes atomic.Uint64
}

// NewManager creates a Manager with no profiles.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Manager{
		graph:    cfg.Graph,
		plugins:  cfg.Plugins,
		starter:  cfg.Starter,
		table:    cfg.Table,
		hub:      cfg.Hub,
		logger:   cfg.Logger,
		profiles: make(map[string]*entry),
	}
}

// ─── Loading ────────────────────────────────────────────────────────────────

// Load adds p, replacing any profile of the same name, then recombines.
//
// A profile that fails validation is not added: no watcher is created and
// none of its mappings reach the dispatch table. Plugins implementing
// LoadHook see the profile before the recombination.
func (m *Manager) Load(p *Profile) error {
	if err := m.add(p); err != nil {
		return err
	}
	m.Recombine()
	return nil
}

// LoadAll adds every profile and recombines once at the end. Invalid
// profiles are skipped and reported together; the valid ones are loaded.
func (m *Manager) LoadAll(profiles []*Profile) error {
	m.mu.Lock()
	m.loading = true
	m.mu.Unlock()

	var errs []error
	for _, p := range profiles {
		if err := m.add(p); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()

	m.Recombine()
	return errors.Join(errs...)
}

// Loading reports whether a bulk load is in progress.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Manager) add(src *Profile) error {
	if src == nil {
		return ErrInvalidProfile
	}
	if err := src.Validate(); err != nil {
		m.logger.Error("rejecting profile", "profile", src.Name, "source", src.Source, "error", err)
		return err
	}

	p := src.Clone()
	p.normalize()
	if err := m.validatePlugins(p); err != nil {
		m.logger.Error("rejecting profile", "profile", p.Name, "source", p.Source, "error", err)
		return err
	}

	if m.plugins != nil {
		for _, pl := range m.plugins.Plugins() {
			if hook, ok := pl.(LoadHook); ok {
				hook.OnProfileLoad(*p)
			}
		}
	}

	w := m.watch(p)

	m.mu.Lock()
	previous, replaced := m.profiles[p.Name]
	e := &entry{profile: p, watcher: w, state: StateLoading}
	var stale *state.Watcher
	if replaced {
		// Reload keeps the activation state, so an unchanged condition
		// does not fire on_activate again.
		e.state = previous.state
		stale = previous.watcher
	}
	m.profiles[p.Name] = e
	m.mu.Unlock()

	if stale != nil {
		stale.Dispose()
	}

	m.logger.Info("profile loaded",
		"profile", p.Name,
		"mappings", p.Mappings(),
		"dependencies", w.Dependencies(),
		"replaced", replaced,
	)
	return nil
}

func (m *Manager) validatePlugins(p *Profile) error {
	if m.plugins == nil {
		return nil
	}
	var errs []error
	for pluginName, triggers := range p.Triggers {
		for trigger, mappings := range triggers {
			for _, mp := range mappings {
				if err := m.plugins.ValidateTriggerConfig(pluginName, trigger, mp.Config); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, errors.Join(errs...))
	}
	return nil
}

// watch creates the Watcher for p. Evaluating the conditions through the
// tracking reader subscribes it to every cell they read.
func (m *Manager) watch(p *Profile) *state.Watcher {
	conditions := p.Conditions
	return m.graph.Watch(
		func(r state.Reader) { condition.Evaluate(conditions, r) },
		func(ch state.Change) { m.dependencyChanged(p.Name, ch) },
	)
}

// dependencyChanged recombines unless a pass already saw ch. Several
// watchers subscribed to one cell thus cause a single pass per write.
func (m *Manager) dependencyChanged(profile string, ch state.Change) {
	m.mu.Lock()
	covered := ch.Seq <= m.evaluatedSeq
	m.mu.Unlock()
	if covered {
		return
	}
	m.logger.Debug("profile dependency changed",
		"profile", profile, "plugin", ch.Plugin, "key", ch.Key, "seq", ch.Seq)
	m.Recombine()
}

// Remove disposes the profile's watcher, drops it, and recombines.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	e, ok := m.profiles[name]
	var w *state.Watcher
	if ok {
		w = e.watcher
		delete(m.profiles, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	w.Dispose()
	m.logger.Info("profile removed", "profile", name)
	m.Recombine()
	return nil
}

// RedoDependencies disposes and recreates every watcher, then recombines.
// Call it when the set of state cells changes.
func (m *Manager) RedoDependencies() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.profiles))
	for _, e := range m.profiles {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		w := m.watch(e.profile)

		m.mu.Lock()
		current, ok := m.profiles[e.profile.Name]
		stale := e.watcher
		if ok && current == e {
			e.watcher = w
		}
		m.mu.Unlock()

		if ok && current == e {
			stale.Dispose()
		} else {
			// Removed or replaced meanwhile.
			w.Dispose()
		}
	}
	m.logger.Debug("profile dependencies rebuilt", "profiles", len(entries))
	m.Recombine()
}

// ─── Recombination ──────────────────────────────────────────────────────────

// Recombine re-evaluates every profile and rebuilds the dispatch table.
// It does nothing during a bulk load.
func (m *Manager) Recombine() {
	m.mu.Lock()
	if m.loading {
		m.mu.Unlock()
		return
	}
	m.dirty = true
	if m.recombining {
		m.mu.Unlock()
		return
	}
	m.recombining = true
	for m.dirty {
		m.dirty = false
		m.mu.Unlock()
		m.recombineOnce()
		m.mu.Lock()
	}
	m.recombining = false
	m.mu.Unlock()
}

// edge is one activation change found by a pass.
type edge struct {
	profile   *Profile
	activated bool
}

func (m *Manager) recombineOnce() {
	m.passes.Add(1)
	seq := m.graph.Seq()
	snapshot := condition.Snapshot(m.graph.Snapshot())

	m.mu.Lock()
	if seq > m.evaluatedSeq {
		m.evaluatedSeq = seq
	}
	names := m.sortedNamesLocked()
	var (
		edges    []edge
		tables   []dispatch.Table
		active   []Profile
		inactive []Profile
		status   = Status{Active: []string{}, Inactive: []string{}}
	)
	for _, name := range names {
		e := m.profiles[name]
		isActive := condition.Evaluate(e.profile.Conditions, snapshot)

		// A loading profile settles into its first state without an edge.
		switch {
		case isActive && e.state == StateInactive:
			edges = append(edges, edge{profile: e.profile, activated: true})
		case !isActive && e.state == StateActive:
			edges = append(edges, edge{profile: e.profile, activated: false})
		}

		if isActive {
			e.state = StateActive
			tables = append(tables, e.profile.Triggers)
			active = append(active, *e.profile)
			status.Active = append(status.Active, name)
		} else {
			e.state = StateInactive
			inactive = append(inactive, *e.profile)
			status.Inactive = append(status.Inactive, name)
		}
	}
	changed := !status.equal(m.lastStatus)
	m.lastStatus = status
	m.mu.Unlock()

	merged := dispatch.Merge(tables...)
	m.table.Install(merged)

	for _, ed := range edges {
		m.runEdge(ed)
	}

	if m.plugins != nil {
		for _, pl := range m.plugins.Plugins() {
			if hook, ok := pl.(ChangeHook); ok {
				hook.OnProfilesChanged(active, inactive)
			}
		}
	}

	if changed {
		m.logger.Info("active profiles changed", "active", status.Active, "mappings", merged.Len())
		if m.hub != nil {
			m.hub.Broadcast(ChannelProfilesChanged, status)
		}
	}
}

func (m *Manager) runEdge(ed edge) {
	ref, label := ed.profile.OnDeactivate, "deactivated"
	if ed.activated {
		ref, label = ed.profile.OnActivate, "activated"
	}
	m.logger.Info("profile "+label, "profile", ed.profile.Name)
	if ref.IsZero() {
		return
	}

	ac := m.starter.NewContext(map[string]any{"profile": ed.profile.Name})
	if _, err := m.starter.Start(ref, ac, "profile:"+ed.profile.Name); err != nil {
		m.logger.Error("failed to start profile automation",
			"profile", ed.profile.Name, "automation", ref.String(), "edge", label, "error", err)
	}
}

func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ─── Snapshots ──────────────────────────────────────────────────────────────

// Passes returns how many recombination passes have run.
func (m *Manager) Passes() uint64 {
	return m.passes.Load()
}

// Status returns the partition computed by the last recombination.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Active:   append([]string{}, m.lastStatus.Active...),
		Inactive: append([]string{}, m.lastStatus.Inactive...),
	}
}

// State returns the activation state of one profile.
func (m *Manager) State(name string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.profiles[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.state, nil
}

// IsActive reports whether name is loaded and active.
func (m *Manager) IsActive(name string) bool {
	st, err := m.State(name)
	return err == nil && st == StateActive
}

// Get returns a copy of a loaded profile.
func (m *Manager) Get(name string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.profile.Clone(), nil
}

// Info describes one loaded profile for observers.
type Info struct {
	Profile      *Profile `json:"profile"`
	State        State    `json:"state"`
	Dependencies []string `json:"dependencies"`
}

// List returns every loaded profile, sorted by name.
func (m *Manager) List() []Info {
	m.mu.Lock()
	names := m.sortedNamesLocked()
	out := make([]Info, 0, len(names))
	watchers := make([]*state.Watcher, 0, len(names))
	for _, name := range names {
		e := m.profiles[name]
		out = append(out, Info{Profile: e.profile.Clone(), State: e.state})
		watchers = append(watchers, e.watcher)
	}
	m.mu.Unlock()

	for i, w := range watchers {
		out[i].Dependencies = w.Dependencies()
	}
	return out
}

// Names returns every loaded profile name, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedNamesLocked()
}

// Dependencies returns the "plugin.key" cells a profile's watcher is subscribed to.
func (m *Manager) Dependencies(name string) ([]string, error) {
	m.mu.Lock()
	e, ok := m.profiles[name]
	var w *state.Watcher
	if ok {
		w = e.watcher
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return w.Dependencies(), nil
}

// Close disposes every watcher. The Manager must not be used afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	watchers := make([]*state.Watcher, 0, len(m.profiles))
	for _, e := range m.profiles {
		watchers = append(watchers, e.watcher)
	}
	m.profiles = make(map[string]*entry)
	m.mu.Unlock()

	for _, w := range watchers {
		w.Dispose()
	}
}
