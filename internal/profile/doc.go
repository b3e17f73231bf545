// Package profile manages profiles: named bundles of an activation
// condition, trigger bindings, and automations run on activation edges.
//
// Architecture:
//
//	state.Graph ──write──▶ Watcher (one per profile)
//	                           │
//	                           ▼
//	                  Manager.Recombine
//	                  ├─ evaluate every profile against a snapshot
//	                  ├─ on_activate / on_deactivate ─▶ Starter
//	                  ├─ merge active triggers ─▶ Installer (dispatch table)
//	                  ├─ ChangeHook plugins
//	                  └─ Status ─▶ WSHub
//
// A profile is Loading until the first recombination that sees it, then
// Active or Inactive. During LoadAll no recombination runs; the bulk load
// ends with exactly one pass.
//
// A profile without conditions is always active.
package profile
