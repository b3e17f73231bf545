// Package plugintest provides a plugin.Host backed by a real state graph
// for plugin unit tests.
package plugintest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/state"
)

// Raised is one trigger a plugin raised through the Host.
type Raised struct {
	Trigger string
	Values  map[string]any
	Extra   []any
}

// Host implements plugin.Host for a single plugin.
type Host struct {
	Graph  *state.Graph
	Plugin string

	// Result is what Trigger returns. It defaults to true.
	Result bool

	mu     sync.Mutex
	raised []Raised
	redo   int
}

var _ plugin.Host = (*Host)(nil)

// New creates a Host and defines the state cells of p's manifest.
func New(p plugin.Plugin) (*Host, error) {
	h := &Host{Graph: state.NewGraph(), Plugin: p.Name(), Result: true}
	for _, spec := range p.Manifest().State {
		if err := h.Graph.Define(h.Plugin, spec); err != nil {
			return nil, fmt.Errorf("defining %s: %w", spec.Key, err)
		}
	}
	return h, nil
}

func (h *Host) GetState(key string) (any, bool) {
	return h.Graph.Get(h.Plugin, key)
}

func (h *Host) SetState(key string, value any) error {
	_, err := h.Graph.Set(h.Plugin, key, value)
	return err
}

func (h *Host) DefineState(spec state.Spec) error {
	return h.Graph.Define(h.Plugin, spec)
}

func (h *Host) RemoveState(key string) error {
	if !h.Graph.Remove(h.Plugin, key) {
		return fmt.Errorf("%w: %s.%s", state.ErrUnknownCell, h.Plugin, key)
	}
	return nil
}

func (h *Host) Trigger(_ context.Context, trigger string, values map[string]any, extra ...any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.raised = append(h.raised, Raised{Trigger: trigger, Values: values, Extra: extra})
	return h.Result
}

func (h *Host) RedoDependencies() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redo++
}

func (h *Host) Logger() plugin.Logger {
	return nopLogger{}
}

// Raised returns a copy of the triggers raised so far.
func (h *Host) Raised() []Raised {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Raised(nil), h.raised...)
}

// Redone returns how many times RedoDependencies was called.
func (h *Host) Redone() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.redo
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
