package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnRegistry tracks open WebSocket trips so they can be closed on shutdown.
type ConnRegistry struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]*websocket.Conn)}
}

// Register adds conn under sessionID.
func (m *ConnRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[sessionID] = conn
	slog.Debug("Trip socket registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the one registered under sessionID.
func (m *ConnRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
		slog.Debug("Trip socket unregistered", "session_id", sessionID)
	}
}

// Count returns the number of open sockets.
func (m *ConnRegistry) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CloseAll closes every open socket with a going-away status.
func (m *ConnRegistry) CloseAll(reason string) {
	m.mu.Lock()
	conns := m.active
	m.active = make(map[string]*websocket.Conn)
	m.mu.Unlock()

	for sid, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, reason)
		slog.Info("Trip socket closed", "session_id", sid, "reason", reason)
	}
}
