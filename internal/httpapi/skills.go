package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleSkillsList implements GET /api/skills: the current tool-spec
// snapshot (spec §4.6 "the snapshot IS the published tool list").
func (s *server) handleSkillsList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Skills == nil {
		writeError(w, http.StatusServiceUnavailable, "skill registry not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "skills": s.deps.Skills.Snapshot()})
}

// handleSkillsCategories implements GET /api/skills/categories. Categories
// aren't part of the tool-spec (provider function-calling doesn't need
// them), so this reads the mirrored rows in the persistent store instead.
func (s *server) handleSkillsCategories(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	rows, err := s.deps.Store.ListSkills(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	seen := map[string]bool{}
	var cats []string
	for _, sk := range rows {
		if sk.Category == "" || seen[sk.Category] {
			continue
		}
		seen[sk.Category] = true
		cats = append(cats, sk.Category)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "categories": cats})
}

// handleSkillsGetByName implements GET /api/skills/by-name/{name}.
func (s *server) handleSkillsGetByName(w http.ResponseWriter, r *http.Request) {
	if s.deps.Skills == nil {
		writeError(w, http.StatusServiceUnavailable, "skill registry not configured")
		return
	}
	name := chi.URLParam(r, "name")
	for _, sp := range s.deps.Skills.Snapshot() {
		if sp.Name == name {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "skill": sp})
			return
		}
	}
	writeError(w, http.StatusNotFound, "skill not found: "+name)
}

// handleSkillsReload implements POST /api/skills/reload: a forced cold
// re-parse, equivalent to the fsnotify-driven hot reload (spec §8).
func (s *server) handleSkillsReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Skills == nil {
		writeError(w, http.StatusServiceUnavailable, "skill registry not configured")
		return
	}
	if err := s.deps.Skills.Load(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "skills": s.deps.Skills.Snapshot()})
}

type skillExecuteRequest struct {
	Params map[string]any `json:"params"`
}

// handleSkillExecute implements POST /api/skills/{name}/execute.
func (s *server) handleSkillExecute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Skills == nil {
		writeError(w, http.StatusServiceUnavailable, "skill registry not configured")
		return
	}
	name := chi.URLParam(r, "name")
	var req skillExecuteRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	output, err := s.deps.Skills.Execute(r.Context(), name, req.Params)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "output": output})
}
