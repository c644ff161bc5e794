// Package live serves chat sessions over websocket connections.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the open connections of each chat session. A chat
// session may be open in several tabs, each with its own client ID.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// lookup returns the connection of one client of a chat session.
func (m *SessionManager) lookup(sessionID, clientID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if clients, ok := m.active[sessionID]; ok {
		return clients[clientID]
	}
	return nil
}

// Count returns the number of open connections for a chat session.
func (m *SessionManager) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// Register adds a connection for a chat session client.
func (m *SessionManager) Register(sessionID, clientID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sessionID]; !exists {
		m.active[sessionID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[sessionID][clientID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}

	m.active[sessionID][clientID] = conn
	slog.Info("Live connection registered", "session_id", sessionID, "client_id", clientID)
}

// Unregister removes a client connection if it is still the current one.
func (m *SessionManager) Unregister(sessionID, clientID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if clients, ok := m.active[sessionID]; ok {
		if current, exists := clients[clientID]; exists && current == conn {
			delete(clients, clientID)
			if len(clients) == 0 {
				delete(m.active, sessionID)
			}
			slog.Info("Live connection unregistered", "session_id", sessionID, "client_id", clientID)
		}
	}
}

// CloseSession terminates every connection of a chat session. It is used as
// the idle sweeper's cleanup callback.
func (m *SessionManager) CloseSession(sessionID string) {
	m.mu.Lock()
	clients, ok := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	for cid, conn := range clients {
		_ = conn.Close(websocket.StatusGoingAway, "session expired")
		slog.Info("Live connection closed", "session_id", sessionID, "client_id", cid)
	}
}
