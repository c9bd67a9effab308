package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/leochame/lavis/internal/push"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// A desktop-local companion app connects from its own origin (file://
	// or a packaged webview), so origin checks don't apply here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS implements /ws/agent: upgrades to a websocket and hands the
// connection to PushBus, which owns its read/write loops from here on
// (spec §4.11).
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Push == nil {
		writeError(w, http.StatusServiceUnavailable, "push bus not configured")
		return
	}

	connID := r.URL.Query().Get("session_id")
	if connID == "" {
		connID = uuid.NewString()
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.deps.Push.Register(connID, ws)
	s.deps.Push.SendByID(connID, push.NewEvent(push.TypeConnected, map[string]any{"session_id": connID}, time.Now()))
}
