// Package automation provides the automation queue for cuebox.
//
// An automation is an ordered list of actions plus a sync flag. Each
// action names a plugin and one of its actions, carries an opaque data
// payload, and may carry a timestamp: an offset in seconds from the start
// of the automation. Prep turns timestamps into per-action waits once,
// before the automation runs.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                  Queue (queue.go)                      │
//	│                                                        │
//	│  Start(ref) ─▶ Registry.Get ─▶ Push                     │
//	│  Push ─▶ Prep ─┬─ sync  ─▶ FIFO ─▶ single worker        │
//	│                └─ async ─▶ own goroutine                │
//	│                                                        │
//	│  runAutomation: actions in order, each to completion    │
//	│    core.automation ─▶ run named sub-automation inline   │
//	│    core.delay      ─▶ sleep N seconds (templated)        │
//	│    plugin action   ─▶ ActionResolver ─▶ handler          │
//	│                                                        │
//	│  Run record ─▶ RunRecorder (SQLite) + WSHub broadcast    │
//	└───────────────────────────────────────────────────────┘
//
// # Failure semantics
//
// A failing plugin action is logged and the automation continues with
// its next action. A failing built-in action aborts the rest of the
// automation. Unknown plugins or actions are skipped with a warning.
//
// # Key Types
//
//   - Automation, Action: definitions, loaded from YAML by the library package
//   - Ref: a name or an inline automation, as bound by profile triggers
//   - Context: caller values plus live plugin helpers and state for templates
//   - Queue: the execution engine
//   - Registry: thread-safe cache of named automations
//   - Run: execution record of one automation
//
// # Usage
//
//	registry := automation.NewRegistry()
//	_ = registry.Put(&automation.Automation{Name: "dim-lights", Actions: actions})
//
//	queue := automation.NewQueue(automation.QueueConfig{
//	    Actions:     plugins,
//	    Automations: registry,
//	    SyncGap:     automation.DefaultSyncGap,
//	    Logger:      log,
//	})
//	runID, err := queue.Start(automation.Named("dim-lights"), queue.NewContext(nil), "api")
package automation
