// Package channel provides the WebSocket duplex channel between browser
// clients and the orchestrator, plus a registry of live connections.
package channel

import (
	"log/slog"
	"sync"
)

// ConnManager tracks live connections by identity. A connection appears
// here only while it is logged in.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*Conn
}

// NewConnManager creates a new connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*Conn),
	}
}

// Get returns the connection for identity and connection id.
func (m *ConnManager) Get(identity, connID string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conns, ok := m.active[identity]; ok {
		return conns[connID]
	}
	return nil
}

// Len returns the number of registered connections across identities.
func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}

// Register adds a connection for identity. A different connection already
// registered under the same id is closed.
func (m *ConnManager) Register(identity, connID string, conn *Conn) {
	m.mu.Lock()
	if _, exists := m.active[identity]; !exists {
		m.active[identity] = make(map[string]*Conn)
	}
	replaced := m.active[identity][connID]
	m.active[identity][connID] = conn
	m.mu.Unlock()

	if replaced != nil && replaced != conn {
		slog.Info("Closing replaced connection", "user_id", identity, "conn_id", connID)
		if err := replaced.Close("connection replaced"); err != nil {
			slog.Debug("Failed to close replaced connection", "user_id", identity, "conn_id", connID, "error", err)
		}
	}
	slog.Info("Connection registered", "user_id", identity, "conn_id", connID)
}

// Unregister removes a connection. A stale conn that has since been
// replaced under the same id is ignored.
func (m *ConnManager) Unregister(identity, connID string, conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[identity]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, identity)
			}
			slog.Info("Connection unregistered", "user_id", identity, "conn_id", connID)
		}
	}
}

// CloseAll closes every registered connection. Used on shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for identity, conns := range m.active {
		for cid, conn := range conns {
			if err := conn.Close("server shutting down"); err != nil {
				slog.Debug("Failed to close connection", "user_id", identity, "conn_id", cid, "error", err)
			}
		}
	}
	m.active = make(map[string]map[string]*Conn)
}
