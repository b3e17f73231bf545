// Package engine wires the cuebox runtime together.
//
// The Engine owns one instance of each core component and connects them:
//
//	plugins ──raise──▶ Dispatcher ──Start──▶ Queue ──actions──▶ plugins
//	   │                   ▲                   │
//	   └──SetState──▶ Graph ──watch──▶ Manager ┘ (on_activate / on_deactivate)
//	                    │                 │
//	                    └──── bus ◀───────┘ ◀── run records
//	                           │
//	               api.Hub, Mirror (MQTT), Telemetry (InfluxDB)
//
// Every state change, profile status change and finished run is fanned
// out to the attached Observers in attach order, on the goroutine that
// caused the event. Observers must not block.
//
// The Engine also implements library.Sink, so a library.Watcher can apply
// file changes to it directly, and automation.EnvSource, so templates see
// plugin helpers and live state.
package engine
