package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/engine"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/profile"
	"github.com/nerrad567/cuebox/internal/state"
)

// sourceAPI is the run source recorded for API-started automations.
const sourceAPI = "api"

// maxRunLimit caps the limit query parameter of the run listing.
const maxRunLimit = 500

// ─── Plugins & State ────────────────────────────────────────────────────────

// pluginInfo is the JSON view of a plugin manifest.
type pluginInfo struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	State       []state.Spec `json:"state"`
	Actions     []defInfo    `json:"actions"`
	Triggers    []defInfo    `json:"triggers"`
}

type defInfo struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

// handleListPlugins returns every registered plugin and its contributions.
func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	reg := s.engine.Plugins()
	out := make([]pluginInfo, 0)
	for _, name := range reg.Names() {
		m, ok := reg.Manifest(name)
		if !ok {
			continue
		}
		info := pluginInfo{
			Name:        name,
			Description: m.Description,
			State:       m.State,
			Actions:     make([]defInfo, 0, len(m.Actions)),
			Triggers:    make([]defInfo, 0, len(m.Triggers)),
		}
		if info.State == nil {
			info.State = []state.Spec{}
		}
		for _, a := range m.Actions {
			info.Actions = append(info.Actions, defInfo{ID: a.ID, Description: a.Description})
		}
		for _, t := range m.Triggers {
			info.Triggers = append(info.Triggers, defInfo{ID: t.ID, Description: t.Description})
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": out, "count": len(out)})
}

// handleGetState returns every state cell, grouped by plugin.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state": s.engine.Graph().Snapshot(),
		"seq":   s.engine.Graph().Seq(),
	})
}

// handleGetPluginState returns one plugin's state cells.
func (s *Server) handleGetPluginState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "plugin")
	for _, p := range s.engine.Graph().Plugins() {
		if p == name {
			writeJSON(w, http.StatusOK, map[string]any{
				"plugin": name,
				"state":  s.engine.Graph().PluginSnapshot(name),
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "no state for plugin "+name)
}

// ─── Profiles ───────────────────────────────────────────────────────────────

// handleListProfiles returns every loaded profile with its activation state.
func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles := s.engine.Profiles().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"status":   s.engine.Profiles().Status(),
		"count":    len(profiles),
	})
}

// handleGetProfile returns one profile.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	mgr := s.engine.Profiles()

	p, err := mgr.Get(name)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	st, _ := mgr.State(name)
	deps, _ := mgr.Dependencies(name)
	writeJSON(w, http.StatusOK, profile.Info{Profile: p, State: st, Dependencies: deps})
}

// ─── Automations ────────────────────────────────────────────────────────────

// handleListAutomations returns every named automation.
func (s *Server) handleListAutomations(w http.ResponseWriter, _ *http.Request) {
	list := s.engine.Automations().List()
	writeJSON(w, http.StatusOK, map[string]any{"automations": list, "count": len(list)})
}

// handleGetAutomation returns one automation.
func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.Automations().Get(chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "automation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get automation")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// startRequest is the optional body of POST /automations/{name}/start.
type startRequest struct {
	Values map[string]any `json:"values"`
}

// handleStartAutomation queues a named automation.
func (s *Server) handleStartAutomation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	name := chi.URLParam(r, "name")
	runID, err := s.engine.StartAutomation(name, req.Values, sourceAPI)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     runID,
		"automation": name,
		"status":     automation.StatusQueued,
	})
}

// runActionsRequest is the body of POST /actions/run.
type runActionsRequest struct {
	Actions []automation.Action `json:"actions"`
	Values  map[string]any      `json:"values"`
}

// handleRunActions runs an ad-hoc list of actions.
func (s *Server) handleRunActions(w http.ResponseWriter, r *http.Request) {
	var req runActionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "actions must not be empty")
		return
	}

	runID, err := s.engine.RunActions(req.Actions, req.Values, sourceAPI)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": automation.StatusQueued,
	})
}

// writeRunError maps queue and validation errors to responses.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, automation.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "automation queue is shut down")
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("failed to start automation", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start automation")
	}
}

// isValidationError reports whether err comes from definition or payload validation.
func isValidationError(err error) bool {
	for _, target := range []error{
		automation.ErrInvalidAutomation,
		automation.ErrInvalidAction,
		automation.ErrNoActions,
		automation.ErrInvalidName,
		plugin.ErrUnknownPlugin,
		plugin.ErrUnknownAction,
		plugin.ErrSchemaValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ─── Runs ───────────────────────────────────────────────────────────────────

// handleListRuns returns recent runs, newest first.
// Query parameters: automation (filter), limit.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.engine.Runs()
	if runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run log not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	list, err := runs.ListRuns(r.Context(), r.URL.Query().Get("automation"), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if list == nil {
		list = []automation.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": list, "count": len(list)})
}

// handleGetRun returns one run record.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runs := s.engine.Runs()
	if runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run log not configured")
		return
	}

	run, err := runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, automation.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("failed to get run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ─── Triggers ───────────────────────────────────────────────────────────────

// triggerRequest is the optional body of POST /triggers/{plugin}/{trigger}.
type triggerRequest struct {
	Values map[string]any `json:"values"`
}

// handleTrigger raises a plugin trigger as if the plugin had.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	pluginName := chi.URLParam(r, "plugin")
	trigger := chi.URLParam(r, "trigger")
	started, err := s.engine.Trigger(r.Context(), pluginName, trigger, req.Values)
	if err != nil {
		switch {
		case errors.Is(err, plugin.ErrUnknownPlugin), errors.Is(err, plugin.ErrUnknownTrigger):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, engine.ErrTriggerContext):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to raise trigger")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plugin":  pluginName,
		"trigger": trigger,
		"started": started,
	})
}

// decodeOptionalBody decodes a JSON body if one was sent.
// It writes a 400 response and returns false on malformed JSON.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
