package services

import (
	"log"
	"sync"

	"agentdeck/internal/models"
)

// ConnectionManager tracks all active WebSocket connections.
type ConnectionManager struct {
	connections map[string]*models.UserConnection
	mutex       sync.RWMutex
}

// NewConnectionManager creates a new connection manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*models.UserConnection),
	}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *models.UserConnection) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.connections[conn.ConnID] = conn
	log.Printf("✅ Connection added: %s (Total: %d)", conn.ConnID, len(cm.connections))
}

// Remove drops a connection and closes its channels.
func (cm *ConnectionManager) Remove(connID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if conn, exists := cm.connections[connID]; exists {
		conn.MarkClosed()
		close(conn.WriteChan)
		close(conn.StopChan)
		delete(cm.connections, connID)
		log.Printf("❌ Connection removed: %s (Total: %d)", connID, len(cm.connections))
	}
}

// Get retrieves a connection by ID.
func (cm *ConnectionManager) Get(connID string) (*models.UserConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	conn, exists := cm.connections[connID]
	return conn, exists
}

// Count returns the number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.connections)
}

// ByUser returns all connections authenticated as userID. The empty id
// matches guest connections.
func (cm *ConnectionManager) ByUser(userID string) []*models.UserConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	conns := make([]*models.UserConnection, 0, 4)
	for _, conn := range cm.connections {
		if conn.UserID == userID {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Broadcast sends a message to every active connection. Closed connections
// are skipped; Remove cleans them up when the read loop exits.
func (cm *ConnectionManager) Broadcast(msg models.ServerMessage) int {
	cm.mutex.RLock()
	conns := make([]*models.UserConnection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mutex.RUnlock()

	sent := 0
	for _, conn := range conns {
		if conn.SafeSend(msg) {
			sent++
		}
	}
	return sent
}
