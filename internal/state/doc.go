// Package state provides the reactive state graph for cuebox.
//
// Every plugin owns a set of named cells. A cell holds one scalar value and
// the list of Watchers subscribed to it. Reads made through the Reader handed
// to a Watcher's track function subscribe that Watcher to the cell; plain
// Graph.Get reads never subscribe.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────┐
//	│                    Graph (graph.go)                   │
//	│   cells[plugin/key] ──▶ value + []*Watcher            │
//	│                                                       │
//	│   Set ─▶ equal? ─▶ no-op                              │
//	│       └▶ store, seq++ ─▶ notify subscribers (sync)     │
//	│                      └▶ change listeners (sync)       │
//	│                                                       │
//	│   Watcher (watcher.go)                                │
//	│     notify ─▶ drop all edges ─▶ re-run track ─▶ onChange│
//	└──────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// The graph lock guards cell storage and subscription edges only. It is never
// held while a Watcher callback or change listener runs, so callbacks may
// write state themselves without deadlocking.
//
// # Usage
//
//	g := state.NewGraph()
//	_ = g.Define("clock", state.Spec{Key: "hour", Type: state.TypeNumber})
//
//	w := g.Watch(
//	    func(r state.Reader) { v, _ := r.Get("clock", "hour"); _ = v },
//	    func(ch state.Change) { log.Println("hour changed", ch.New) },
//	)
//	defer w.Dispose()
//
//	_, _ = g.Set("clock", "hour", 22) // onChange runs before Set returns
package state
