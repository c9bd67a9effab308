package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/leochame/lavis/internal/scheduler"
)

// handleTasksList implements GET /api/scheduler/tasks.
func (s *server) handleTasksList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	tasks, err := s.deps.Scheduler.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tasks": tasks})
}

type taskCreateRequest struct {
	Name    string `json:"name"`
	Cron    string `json:"cronExpression"`
	Command string `json:"command"`
	Enabled *bool  `json:"enabled"`
}

// handleTaskCreate implements POST /api/scheduler/tasks.
func (s *server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	var req taskCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	now := time.Now()
	task := &scheduler.Task{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Cron:      req.Cron,
		Command:   req.Command,
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Scheduler.Create(r.Context(), task); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "task": task})
}

// handleTaskGet implements GET /api/scheduler/tasks/{id}.
func (s *server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	task, err := s.deps.Scheduler.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": task})
}

type taskUpdateRequest struct {
	Name    string `json:"name"`
	Cron    string `json:"cronExpression"`
	Command string `json:"command"`
	Enabled bool   `json:"enabled"`
}

// handleTaskUpdate implements PUT /api/scheduler/tasks/{id}.
func (s *server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	id := chi.URLParam(r, "id")
	existing, err := s.deps.Scheduler.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req taskUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	existing.Name = req.Name
	existing.Cron = req.Cron
	existing.Command = req.Command
	existing.Enabled = req.Enabled
	existing.UpdatedAt = time.Now()

	if err := s.deps.Scheduler.Update(r.Context(), existing); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": existing})
}

// handleTaskDelete implements DELETE /api/scheduler/tasks/{id}.
func (s *server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	if err := s.deps.Scheduler.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleTaskStart implements POST /api/scheduler/tasks/{id}/start.
func (s *server) handleTaskStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	if err := s.deps.Scheduler.Start(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleTaskStop implements POST /api/scheduler/tasks/{id}/stop.
func (s *server) handleTaskStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	if err := s.deps.Scheduler.Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleTaskRunNow implements POST /api/scheduler/tasks/{id}/run-now.
func (s *server) handleTaskRunNow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	if err := s.deps.Scheduler.RunNow(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleTaskHistory implements GET /api/scheduler/tasks/{id}/history?limit=.
func (s *server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	history, err := s.deps.Scheduler.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": history})
}
