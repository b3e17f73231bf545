package state

import (
	"fmt"
	"sort"
	"sync"
)

// Reader reads state values. The Reader passed to a Watcher's track
// function subscribes the Watcher to every cell it reads.
type Reader interface {
	Get(plugin, key string) (any, bool)
}

// Change describes one committed write.
type Change struct {
	Plugin string `json:"plugin"`
	Key    string `json:"key"`
	Old    any    `json:"old"`
	New    any    `json:"new"`

	// Seq increases by one for every committed write across the graph.
	Seq uint64 `json:"seq"`
}

type cellKey struct {
	plugin string
	key    string
}

func (k cellKey) String() string { return k.plugin + "." + k.key }

// cell is one reactive scalar. subs is kept in subscription order.
type cell struct {
	spec  Spec
	value any
	subs  []*Watcher
}

func (c *cell) subscribe(w *Watcher) bool {
	for _, s := range c.subs {
		if s == w {
			return false
		}
	}
	c.subs = append(c.subs, w)
	return true
}

func (c *cell) unsubscribe(w *Watcher) {
	for i, s := range c.subs {
		if s == w {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// Graph holds every plugin's state cells.
//
// Thread Safety: all methods are safe for concurrent use. Callbacks run
// without the graph lock held.
type Graph struct {
	mu        sync.RWMutex
	cells     map[cellKey]*cell
	seq       uint64
	listeners []func(Change)
}

// NewGraph creates an empty state graph.
func NewGraph() *Graph {
	return &Graph{
		cells: make(map[cellKey]*cell),
	}
}

// Define creates a cell for plugin using spec.
// The cell starts at spec.Default, or the zero value of its type.
//
// Returns:
//   - error: ErrInvalidSpec, ErrCellExists, or ErrTypeMismatch for a bad default
func (g *Graph) Define(plugin string, spec Spec) error {
	if plugin == "" || spec.Key == "" || !spec.Type.Valid() {
		return fmt.Errorf("%w: %s.%s type %q", ErrInvalidSpec, plugin, spec.Key, spec.Type)
	}

	initial := spec.Default
	if initial == nil {
		initial = spec.zero()
	}
	value, err := coerce(spec.Type, initial)
	if err != nil {
		return fmt.Errorf("default for %s.%s: %w", plugin, spec.Key, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	k := cellKey{plugin, spec.Key}
	if _, exists := g.cells[k]; exists {
		return fmt.Errorf("%w: %s", ErrCellExists, k)
	}
	g.cells[k] = &cell{spec: spec, value: value}
	return nil
}

// Remove deletes a cell and drops every subscription edge to it.
// It reports whether the cell existed.
func (g *Graph) Remove(plugin, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := cellKey{plugin, key}
	c, ok := g.cells[k]
	if !ok {
		return false
	}
	for _, w := range c.subs {
		delete(w.deps, k)
	}
	delete(g.cells, k)
	return true
}

// Has reports whether plugin.key is defined.
func (g *Graph) Has(plugin, key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.cells[cellKey{plugin, key}]
	return ok
}

// Get returns the current value of plugin.key without subscribing anything.
func (g *Graph) Get(plugin, key string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.cells[cellKey{plugin, key}]
	if !ok {
		return nil, false
	}
	return c.value, true
}

// Set writes value to plugin.key.
//
// A value equal to the current one is a no-op and notifies nobody.
// Otherwise every subscribed Watcher is notified once, in subscription
// order, followed by every change listener. Notification is synchronous:
// Set returns after all callbacks have returned.
//
// Returns:
//   - bool: true when the value changed
//   - error: ErrUnknownCell or ErrTypeMismatch
func (g *Graph) Set(plugin, key string, value any) (bool, error) {
	k := cellKey{plugin, key}

	g.mu.Lock()
	c, ok := g.cells[k]
	if !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownCell, k)
	}

	v, err := coerce(c.spec.Type, value)
	if err != nil {
		g.mu.Unlock()
		return false, fmt.Errorf("set %s: %w", k, err)
	}
	if Equal(c.value, v) {
		g.mu.Unlock()
		return false, nil
	}

	g.seq++
	ch := Change{Plugin: plugin, Key: key, Old: c.value, New: v, Seq: g.seq}
	c.value = v

	subs := make([]*Watcher, len(c.subs))
	copy(subs, c.subs)
	listeners := make([]func(Change), len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()

	for _, w := range subs {
		w.notify(ch)
	}
	for _, fn := range listeners {
		fn(ch)
	}
	return true, nil
}

// OnChange registers fn to run after every committed write.
// Listeners run after the written cell's Watchers.
func (g *Graph) OnChange(fn func(Change)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Seq returns the sequence number of the latest committed write.
func (g *Graph) Seq() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.seq
}

// Spec returns the spec plugin.key was defined with.
func (g *Graph) Spec(plugin, key string) (Spec, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.cells[cellKey{plugin, key}]
	if !ok {
		return Spec{}, false
	}
	return c.spec, true
}

// Snapshot returns a copy of every value, keyed by plugin then key.
func (g *Graph) Snapshot() map[string]map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]map[string]any)
	for k, c := range g.cells {
		m, ok := out[k.plugin]
		if !ok {
			m = make(map[string]any)
			out[k.plugin] = m
		}
		m[k.key] = c.value
	}
	return out
}

// PluginSnapshot returns a copy of one plugin's values.
func (g *Graph) PluginSnapshot(plugin string) map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]any)
	for k, c := range g.cells {
		if k.plugin == plugin {
			out[k.key] = c.value
		}
	}
	return out
}

// Plugins returns the sorted names of plugins owning at least one cell.
func (g *Graph) Plugins() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	for k := range g.cells {
		seen[k.plugin] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch creates a Watcher and runs track once to collect its subscriptions.
// onChange runs after every later re-track triggered by a write.
func (g *Graph) Watch(track func(Reader), onChange func(Change)) *Watcher {
	w := &Watcher{
		graph:    g,
		track:    track,
		onChange: onChange,
		deps:     make(map[cellKey]struct{}),
	}
	w.runMu.Lock()
	w.retrack()
	w.runMu.Unlock()
	return w
}

// getTracked reads plugin.key and records a subscription edge for w.
// Reads of undefined cells record nothing.
func (g *Graph) getTracked(w *Watcher, plugin, key string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := cellKey{plugin, key}
	c, ok := g.cells[k]
	if !ok {
		return nil, false
	}
	if !w.disposed.Load() && c.subscribe(w) {
		w.deps[k] = struct{}{}
	}
	return c.value, true
}

// dropEdges removes every subscription edge held by w.
func (g *Graph) dropEdges(w *Watcher) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k := range w.deps {
		if c, ok := g.cells[k]; ok {
			c.unsubscribe(w)
		}
		delete(w.deps, k)
	}
}
