// Package api implements the HTTP REST API and WebSocket server for cuebox.
//
// This package provides:
//   - REST endpoints for state, profiles, automations, runs and triggers
//   - WebSocket hub relaying engine events to subscribed clients
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/plugins
//	GET  /api/v1/state
//	GET  /api/v1/state/{plugin}
//	GET  /api/v1/profiles
//	GET  /api/v1/profiles/{name}
//	GET  /api/v1/automations
//	GET  /api/v1/automations/{name}
//	POST /api/v1/automations/{name}/start      {"values": {...}}
//	GET  /api/v1/runs?automation=&limit=
//	GET  /api/v1/runs/{id}
//	POST /api/v1/actions/run                   {"actions": [...], "values": {...}}
//	POST /api/v1/triggers/{plugin}/{trigger}   {"values": {...}}
//	POST /api/v1/auth/ws-ticket
//	GET  /api/v1/ws?ticket=
//
// # WebSocket channels
//
// Clients send {"type":"subscribe","payload":{"channels":[...]}} and then
// receive "event" messages on state.changed, profiles.changed and
// automation.finished. The channel "*" subscribes to all of them.
//
// # Security
//
// When security.jwt.secret is set, every route except health requires an
// HS256 bearer token issued with IssueToken (see "cuebox token"), and
// WebSocket connections require a single-use ticket so the token never
// appears in a URL. With no secret the API is open; bind it to localhost.
package api
