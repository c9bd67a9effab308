package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

func newTestServerAndBus(t *testing.T) (*PushBus, func(id string) *websocket.Conn, func()) {
	t.Helper()
	bus := New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		bus.Register(id, ws)
	}))

	dial := func(id string) *websocket.Conn {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?id=" + id
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		return conn
	}

	return bus, dial, srv.Close
}

func TestPushBus_SendByID_DeliversToConnectedClient(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping goroutine test in short mode")
	}
	bus, dial, closeSrv := newTestServerAndBus(t)
	defer closeSrv()

	client := dial("conn-1")
	defer client.Close()

	waitForActive(t, bus, "conn-1")

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello Event
	require.NoError(t, client.ReadJSON(&hello))
	assert.Equal(t, TypeConnected, hello.Type)

	ok := bus.SendByID("conn-1", NewEvent(TypeThinking, map[string]any{"x": 1}, time.Now()))
	assert.True(t, ok)

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	require.NoError(t, client.ReadJSON(&evt))
	assert.Equal(t, TypeThinking, evt.Type)
}

func TestPushBus_SendByID_UnknownConnectionReturnsFalse(t *testing.T) {
	bus := New()
	ok := bus.SendByID("does-not-exist", NewEvent(TypeThinking, nil, time.Now()))
	assert.False(t, ok)
}

func TestPushBus_Broadcast_ReachesEveryActiveConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping goroutine test in short mode")
	}
	bus, dial, closeSrv := newTestServerAndBus(t)
	defer closeSrv()

	c1 := dial("a")
	defer c1.Close()
	c2 := dial("b")
	defer c2.Close()

	waitForActive(t, bus, "a")
	waitForActive(t, bus, "b")

	for _, c := range []*websocket.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var hello Event
		require.NoError(t, c.ReadJSON(&hello))
		assert.Equal(t, TypeConnected, hello.Type)
	}

	bus.Broadcast(NewEvent(TypeLog, map[string]any{"msg": "hi"}, time.Now()))

	for _, c := range []*websocket.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var evt Event
		require.NoError(t, c.ReadJSON(&evt))
		assert.Equal(t, TypeLog, evt.Type)
	}
}

func TestPushBus_ReadLoop_PingRepliesWithPong(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping goroutine test in short mode")
	}
	_, dial, closeSrv := newTestServerAndBus(t)
	defer closeSrv()

	client := dial("ping-conn")
	defer client.Close()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var hello Event
	require.NoError(t, client.ReadJSON(&hello))
	assert.Equal(t, TypeConnected, hello.Type)

	require.NoError(t, client.WriteJSON(map[string]string{"type": "ping"}))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	require.NoError(t, client.ReadJSON(&evt))
	assert.Equal(t, "pong", evt.Type)
}

func TestPushBus_Evict_OnClientDisconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping goroutine test in short mode")
	}
	bus, dial, closeSrv := newTestServerAndBus(t)
	defer closeSrv()

	client := dial("evict-me")
	waitForActive(t, bus, "evict-me")

	client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.IsActive("evict-me") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.False(t, bus.IsActive("evict-me"))
}

func TestPushBus_FirstActive_ReturnsAnyRegisteredID(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping goroutine test in short mode")
	}
	bus, dial, closeSrv := newTestServerAndBus(t)
	defer closeSrv()

	_, ok := bus.FirstActive()
	assert.False(t, ok)

	client := dial("only-conn")
	defer client.Close()
	waitForActive(t, bus, "only-conn")

	id, ok := bus.FirstActive()
	require.True(t, ok)
	assert.Equal(t, "only-conn", id)
	assert.Equal(t, 1, bus.Count())
}

func waitForActive(t *testing.T, bus *PushBus, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !bus.IsActive(id) {
		if time.Now().After(deadline) {
			t.Fatalf("connection %q never became active", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
