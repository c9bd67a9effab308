// Package push implements PushBus (spec §4.11): a per-connection push
// channel for progress events and TTS audio, broadcast and by-id addressed,
// backed by gorilla/websocket.
package push

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leochame/lavis/internal/logging"
	"go.uber.org/zap"
)

const writeQueueDepth = 64

// Connection is one long-lived bidirectional push channel (spec §3
// PushConnection). Its id is stable and never reused within a process
// lifetime.
type Connection struct {
	id         string
	ws         *websocket.Conn
	out        chan Event
	subscribed bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(id string, ws *websocket.Conn) *Connection {
	return &Connection{
		id:     id,
		ws:     ws,
		out:    make(chan Event, writeQueueDepth),
		closed: make(chan struct{}),
	}
}

// ID returns the connection's stable id.
func (c *Connection) ID() string { return c.id }

func (c *Connection) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// PushBus is spec component C11.
type PushBus struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	log   *zap.Logger
}

// New builds an empty PushBus.
func New() *PushBus {
	return &PushBus{
		conns: make(map[string]*Connection),
		log:   logging.Named("push"),
	}
}

// Register adopts a new websocket connection under the given stable id,
// starting its dedicated reader and writer goroutines (spec §5: one reader
// and one writer per connection with a bounded queue).
func (b *PushBus) Register(id string, ws *websocket.Conn) *Connection {
	conn := newConnection(id, ws)

	b.mu.Lock()
	b.conns[id] = conn
	b.mu.Unlock()

	go b.writeLoop(conn)
	go b.readLoop(conn)

	conn.out <- NewEvent(TypeConnected, map[string]any{"sessionId": id}, time.Now())
	return conn
}

func (b *PushBus) writeLoop(conn *Connection) {
	for {
		select {
		case evt, ok := <-conn.out:
			if !ok {
				return
			}
			if err := conn.ws.WriteJSON(evt); err != nil {
				b.log.Warn("push write failed, evicting connection", zap.String("id", conn.id), zap.Error(err))
				b.evict(conn.id)
				return
			}
		case <-conn.closed:
			return
		}
	}
}

func (b *PushBus) readLoop(conn *Connection) {
	defer b.evict(conn.id)
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "ping":
			select {
			case conn.out <- NewEvent("pong", nil, time.Now()):
			default:
			}
		case "subscribe":
			b.mu.Lock()
			conn.subscribed = true
			b.mu.Unlock()
		}
	}
}

// evict removes a connection on first failed write or read error (spec §3:
// "closed connections are evicted on first failed write").
func (b *PushBus) evict(id string) {
	b.mu.Lock()
	conn, ok := b.conns[id]
	if ok {
		delete(b.conns, id)
	}
	b.mu.Unlock()
	if ok {
		conn.markClosed()
		close(conn.out)
		_ = conn.ws.Close()
	}
}

// Broadcast sends an event to every active connection. Broadcasts and
// SendByID calls on the same connection share one FIFO order because both
// funnel through the same bounded `out` channel; a connection whose queue is
// full does not receive the event.
func (b *PushBus) Broadcast(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, conn := range b.conns {
		select {
		case conn.out <- evt:
		default:
			b.log.Warn("broadcast queue full, dropping event", zap.String("id", conn.id))
		}
	}
}

// SendByID delivers an event to exactly one connection, returning false if
// no such connection is active.
func (b *PushBus) SendByID(id string, evt Event) bool {
	b.mu.RLock()
	conn, ok := b.conns[id]
	b.mu.RUnlock()
	if !ok || conn.isClosed() {
		return false
	}
	select {
	case conn.out <- evt:
		return true
	default:
		return false
	}
}

// IsActive reports whether id names a currently-registered connection.
func (b *PushBus) IsActive(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conn, ok := b.conns[id]
	return ok && !conn.isClosed()
}

// FirstActive returns the id of any currently active connection, used for
// the UnifiedChatService TTS fallback (spec §4.9).
func (b *PushBus) FirstActive() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, conn := range b.conns {
		if !conn.isClosed() {
			return id, true
		}
	}
	return "", false
}

// Count returns the number of currently registered connections.
func (b *PushBus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
