package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// healthCheckTimeout bounds each dependency check of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID, echoRequestID)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Get("/plugins", s.handleListPlugins)

			r.Route("/state", func(r chi.Router) {
				r.Get("/", s.handleGetState)
				r.Get("/{plugin}", s.handleGetPluginState)
			})

			r.Route("/profiles", func(r chi.Router) {
				r.Get("/", s.handleListProfiles)
				r.Get("/{name}", s.handleGetProfile)
			})

			r.Route("/automations", func(r chi.Router) {
				r.Get("/", s.handleListAutomations)
				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", s.handleGetAutomation)
					r.Post("/start", s.handleStartAutomation)
				})
			})

			r.Route("/runs", func(r chi.Router) {
				r.Get("/", s.handleListRuns)
				r.Get("/{id}", s.handleGetRun)
			})

			r.Post("/actions/run", s.handleRunActions)
			r.Post("/triggers/{plugin}/{trigger}", s.handleTrigger)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
// Any failing dependency check turns the status to "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"engine":  s.engine.Status(),
		"checks":  checks,
		"clients": s.hub.ClientCount(),
	})
}
