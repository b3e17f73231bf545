package automation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Queue.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the named automations known to the process.
//
// Automations are validated on the way in and deep-copied on the way out,
// so callers can never mutate the cached definitions.
//
// All public methods are thread-safe.
type Registry struct {
	cache   map[string]*Automation // Cached automations by name
	cacheMu sync.RWMutex           // Protects cache
	logger  Logger
}

// NewRegistry creates an empty automation registry.
func NewRegistry() *Registry {
	return &Registry{
		cache:  make(map[string]*Automation),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Get retrieves an automation by name.
// The returned automation is a deep copy; callers can safely modify it.
func (r *Registry) Get(name string) (*Automation, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[name]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	_, ok := r.cache[name]
	return ok
}

// List returns deep copies of every automation sorted by name.
func (r *Registry) List() []Automation {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Automation, 0, len(r.cache))
	for _, a := range r.cache {
		out = append(out, *a.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	names := make([]string, 0, len(r.cache))
	for name := range r.cache {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put validates and stores a, replacing any automation with the same name.
func (r *Registry) Put(a *Automation) error {
	if err := Validate(a); err != nil {
		return err
	}

	r.cacheMu.Lock()
	_, replaced := r.cache[a.Name]
	r.cache[a.Name] = a.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("automation stored", "automation", a.Name, "actions", len(a.Actions), "replaced", replaced)
	return nil
}

// Delete removes an automation.
func (r *Registry) Delete(name string) error {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if _, ok := r.cache[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.cache, name)
	r.logger.Debug("automation deleted", "automation", name)
	return nil
}

// Replace swaps the whole set for all. Invalid automations are skipped
// and reported in the returned error; the valid ones are still installed.
func (r *Registry) Replace(all []*Automation) error {
	next := make(map[string]*Automation, len(all))
	var errs []error
	for _, a := range all {
		if err := Validate(a); err != nil {
			errs = append(errs, err)
			continue
		}
		next[a.Name] = a.DeepCopy()
	}

	r.cacheMu.Lock()
	r.cache = next
	r.cacheMu.Unlock()

	r.logger.Info("automation cache refreshed", "count", len(next), "rejected", len(errs))
	return errors.Join(errs...)
}
