// Package httpapi implements the EXTERNAL INTERFACES surface (spec §6): a
// thin chi-based HTTP/WebSocket layer that marshals requests into the
// component calls already implemented by chat, skills, scheduler, store and
// gateway, and marshals their results back to the §6 JSON contracts.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leochame/lavis/internal/chat"
	"github.com/leochame/lavis/internal/gateway"
	"github.com/leochame/lavis/internal/logging"
	"github.com/leochame/lavis/internal/orchestrator"
	"github.com/leochame/lavis/internal/push"
	"github.com/leochame/lavis/internal/scheduler"
	"github.com/leochame/lavis/internal/screen"
	"github.com/leochame/lavis/internal/skills"
	"github.com/leochame/lavis/internal/store"
	"go.uber.org/zap"
)

// Deps bundles every collaborator a handler may need. Fields are nilable;
// handlers that depend on an absent collaborator respond 503.
type Deps struct {
	Chat         *chat.UnifiedChatService
	Orchestrator *orchestrator.TaskOrchestrator
	Skills       *skills.Registry
	Scheduler    *scheduler.Scheduler
	Push         *push.PushBus
	Screen       *screen.ScreenSource
	Gateway      *gateway.ModelGateway
	Store        *store.Store
	ModelAlias   string
}

type server struct {
	deps Deps
	log  *zap.Logger
}

// NewRouter builds the full chi router mounting every §6 endpoint plus the
// /ws/agent push connection.
func NewRouter(deps Deps) http.Handler {
	s := &server{deps: deps, log: logging.Named("httpapi")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/task", s.handleTask)
		r.Post("/voice-chat", s.handleVoiceChat)
		r.Post("/stop", s.handleStop)
		r.Post("/reset", s.handleReset)
		r.Get("/status", s.handleStatus)
		r.Get("/screenshot", s.handleScreenshot)
		r.Get("/history", s.handleHistoryList)
		r.Delete("/history", s.handleHistoryClear)
		r.Post("/tts", s.handleTTS)
	})

	r.Route("/api/skills", func(r chi.Router) {
		r.Get("/", s.handleSkillsList)
		r.Get("/categories", s.handleSkillsCategories)
		r.Get("/by-name/{name}", s.handleSkillsGetByName)
		r.Post("/reload", s.handleSkillsReload)
		r.Post("/{name}/execute", s.handleSkillExecute)
	})

	r.Route("/api/scheduler/tasks", func(r chi.Router) {
		r.Get("/", s.handleTasksList)
		r.Post("/", s.handleTaskCreate)
		r.Get("/{id}", s.handleTaskGet)
		r.Put("/{id}", s.handleTaskUpdate)
		r.Delete("/{id}", s.handleTaskDelete)
		r.Post("/{id}/start", s.handleTaskStart)
		r.Post("/{id}/stop", s.handleTaskStop)
		r.Post("/{id}/run-now", s.handleTaskRunNow)
		r.Get("/{id}/history", s.handleTaskHistory)
	})

	r.Route("/api/config/api-key", func(r chi.Router) {
		r.Post("/", s.handleAPIKeySet)
		r.Get("/", s.handleAPIKeyStatus)
		r.Delete("/", s.handleAPIKeyClear)
	})

	r.Get("/ws/agent", s.handleWS)

	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
