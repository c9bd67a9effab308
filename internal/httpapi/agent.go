package httpapi

import (
	"encoding/base64"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/leochame/lavis/internal/chat"
	"github.com/leochame/lavis/internal/plan"
)

type chatRequest struct {
	Message         string `json:"message"`
	UseOrchestrator bool   `json:"useOrchestrator"`
	NeedsTts        bool   `json:"needsTts"`
	WsSessionID     string `json:"ws_session_id"`
}

func chatResponse(r chat.Result) map[string]any {
	out := map[string]any{
		"success":       r.Success,
		"user_text":     r.UserText,
		"agent_text":    r.AgentText,
		"request_id":    r.RequestID,
		"audio_pending": r.AudioPending,
		"duration_ms":   r.DurationMs,
	}
	if r.OrchestratorState != "" {
		out["orchestrator_state"] = r.OrchestratorState
	}
	return out
}

// handleChat implements POST /api/agent/chat (spec §6).
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat service not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := s.deps.Chat.NormalizeText(r.Context(), req.Message, req.WsSessionID, req.UseOrchestrator, req.NeedsTts)
	writeJSON(w, http.StatusOK, chatResponse(result))
}

type taskRequest struct {
	Goal        string `json:"goal"`
	WsSessionID string `json:"ws_session_id"`
}

// handleTask implements POST /api/agent/task: runs an orchestrated goal
// directly and reports plan-level detail beyond what /chat's envelope
// carries (spec §6).
func (s *server) handleTask(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not configured")
		return
	}
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	start := time.Now()
	p, err := s.deps.Orchestrator.RunGoal(r.Context(), req.Goal, req.WsSessionID)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false, "message": err.Error(), "duration_ms": durationMs,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":           p.Status == plan.PlanCompleted,
		"message":           string(p.Status),
		"duration_ms":       durationMs,
		"plan_summary":      p.Goal,
		"steps_total":       len(p.Milestones),
		"execution_summary": milestoneSummaries(p),
	})
}

func milestoneSummaries(p *plan.Plan) []map[string]any {
	out := make([]map[string]any, 0, len(p.Milestones))
	for i, m := range p.Milestones {
		out = append(out, map[string]any{
			"step":   i + 1,
			"desc":   m.Description,
			"status": string(m.Status),
		})
	}
	return out
}

// handleVoiceChat implements POST /api/agent/voice-chat: multipart `file`
// (audio), optional `screenshot`, `ws_session_id` (spec §6).
func (s *server) handleVoiceChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat service not configured")
		return
	}
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}

	audio, mime, err := readMultipartFile(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wsSessionID := r.FormValue("ws_session_id")
	useOrchestrator := r.FormValue("useOrchestrator") == "true"
	needsTts := r.FormValue("needsTts") == "true"

	result := s.deps.Chat.NormalizeAudio(r.Context(), audio, mime, wsSessionID, useOrchestrator, needsTts)
	writeJSON(w, http.StatusOK, chatResponse(result))
}

func readMultipartFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, mimeFromHeader(header), nil
}

func mimeFromHeader(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "audio/wav"
}

// handleStop implements POST /api/agent/stop.
func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat != nil {
		s.deps.Chat.Stop()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleReset implements POST /api/agent/reset.
func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat != nil {
		s.deps.Chat.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleStatus implements GET /api/agent/status.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"available": s.deps.Gateway != nil,
		"model":     s.deps.ModelAlias,
	}
	if s.deps.Orchestrator != nil {
		if p := s.deps.Orchestrator.CurrentPlan(); p != nil {
			out["orchestrator_state"] = string(p.Status)
			out["current_plan_progress"] = map[string]any{
				"current": p.CurrentIdx + 1,
				"total":   len(p.Milestones),
			}
			out["current_plan"] = milestoneSummaries(p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleScreenshot implements GET /api/agent/screenshot?thumbnail=.
func (s *server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Screen == nil {
		writeError(w, http.StatusServiceUnavailable, "screen source not configured")
		return
	}
	thumbnail := r.URL.Query().Get("thumbnail") == "true"

	img, frame, err := s.deps.Screen.CaptureAsBase64(r.Context(), thumbnail)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"image":   img,
		"size":    map[string]any{"width": frame.LogicalWidth, "height": frame.LogicalHeight},
	})
}

// handleHistoryList implements GET /api/agent/history: the current
// session's recorded turns (spec §4.13 session_messages).
func (s *server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	msgs, err := s.deps.Store.ListMessages(r.Context(), sessionID, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": msgs})
}

// handleHistoryClear implements DELETE /api/agent/history.
func (s *server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if err := s.deps.Store.DeleteSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type ttsRequest struct {
	Text string `json:"text"`
}

// handleTTS implements POST /api/agent/tts: a synchronous, non-push TTS
// render of arbitrary text (the push-delivered path is AsyncTts via /chat).
func (s *server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	start := time.Now()
	audio, err := s.deps.Gateway.TTS(r.Context(), req.Text, "", "mp3")
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error(), "duration_ms": durationMs})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"audio":       base64.StdEncoding.EncodeToString(audio),
		"format":      "mp3",
		"duration_ms": durationMs,
	})
}
