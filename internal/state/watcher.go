package state

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Watcher is a unit of reactive recomputation.
//
// Its subscription set is whatever its track function read on the most
// recent run. The set is cleared and rebuilt on every run, so a Watcher
// never keeps edges to cells it stopped reading.
type Watcher struct {
	graph    *Graph
	track    func(Reader)
	onChange func(Change)

	// runMu serializes re-tracking of this Watcher.
	runMu sync.Mutex

	// deps is guarded by graph.mu.
	deps map[cellKey]struct{}

	disposed atomic.Bool
}

// trackingReader subscribes its Watcher to every cell read through it.
type trackingReader struct {
	w *Watcher
}

func (r trackingReader) Get(plugin, key string) (any, bool) {
	return r.w.graph.getTracked(r.w, plugin, key)
}

func (w *Watcher) retrack() {
	w.graph.dropEdges(w)
	if w.track != nil {
		w.track(trackingReader{w: w})
	}
}

func (w *Watcher) notify(ch Change) {
	if w.disposed.Load() {
		return
	}

	w.runMu.Lock()
	w.retrack()
	w.runMu.Unlock()

	if w.onChange != nil && !w.disposed.Load() {
		w.onChange(ch)
	}
}

// Dispose removes every subscription. A disposed Watcher is never invoked again.
func (w *Watcher) Dispose() {
	if w.disposed.Swap(true) {
		return
	}
	w.graph.dropEdges(w)
}

// Disposed reports whether Dispose has been called.
func (w *Watcher) Disposed() bool {
	return w.disposed.Load()
}

// Dependencies returns the "plugin.key" names the Watcher is subscribed to, sorted.
func (w *Watcher) Dependencies() []string {
	w.graph.mu.RLock()
	defer w.graph.mu.RUnlock()

	out := make([]string, 0, len(w.deps))
	for k := range w.deps {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}
