package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leochame/lavis/internal/config"
	"github.com/leochame/lavis/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandleStatus_NoGatewayReportsUnavailable(t *testing.T) {
	r := NewRouter(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/agent/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["available"])
}

func TestHandleStatus_WithGatewayReportsAvailable(t *testing.T) {
	gw := gateway.New(config.ModelsConfig{})
	r := NewRouter(Deps{Gateway: gw, ModelAlias: "chat-default"})

	req := httptest.NewRequest(http.MethodGet, "/api/agent/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "chat-default", body["model"])
}

func TestHandleSkillsList_MissingRegistryReturns503(t *testing.T) {
	r := NewRouter(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/skills/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleAPIKey_SetThenClearReturnOK(t *testing.T) {
	gw := gateway.New(config.ModelsConfig{})
	r := NewRouter(Deps{Gateway: gw})

	setReq := httptest.NewRequest(http.MethodPost, "/api/config/api-key/", strings.NewReader(`{"api_key":"sk-test"}`))
	setRec := httptest.NewRecorder()
	r.ServeHTTP(setRec, setReq)
	require.Equal(t, http.StatusOK, setRec.Code)

	clearReq := httptest.NewRequest(http.MethodDelete, "/api/config/api-key/", nil)
	clearRec := httptest.NewRecorder()
	r.ServeHTTP(clearRec, clearReq)
	assert.Equal(t, http.StatusOK, clearRec.Code)
}

func TestHandleAPIKey_SetWithoutGatewayReturns503(t *testing.T) {
	r := NewRouter(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/api/config/api-key/", strings.NewReader(`{"api_key":"sk-test"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleChat_MissingChatServiceReturns503(t *testing.T) {
	r := NewRouter(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleTasksList_MissingSchedulerReturns503(t *testing.T) {
	r := NewRouter(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/scheduler/tasks/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
