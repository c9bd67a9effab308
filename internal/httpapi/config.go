package httpapi

import "net/http"

type apiKeyRequest struct {
	APIKey string `json:"api_key"`
}

// handleAPIKeySet implements POST /api/config/api-key: installs a runtime
// override that ModelGateway prefers over the configured key (spec §4.3).
func (s *server) handleAPIKeySet(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	var req apiKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key must not be empty")
		return
	}
	s.deps.Gateway.SetDynamicAPIKey(req.APIKey)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAPIKeyStatus implements GET /api/config/api-key. It reports
// configured=true whenever a gateway is wired in; it does not report whether
// a runtime key override is currently set, and never returns a key value.
func (s *server) handleAPIKeyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "configured": s.deps.Gateway != nil})
}

// handleAPIKeyClear implements DELETE /api/config/api-key.
func (s *server) handleAPIKeyClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	s.deps.Gateway.ClearDynamicAPIKey()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
