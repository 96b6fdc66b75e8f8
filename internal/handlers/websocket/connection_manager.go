package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
)

const (
	defaultSessionTimeout = 30 * time.Minute
	cleanupInterval       = time.Minute
)

// ConnectionManager tracks live connections and closes idle ones
type ConnectionManager struct {
	logger         *Logger.Logger
	sessions       map[uuid.UUID]*Session
	mutex          sync.RWMutex
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}
	closeOnce      sync.Once
	sessionTimeout time.Duration
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(sessionTimeout time.Duration, logger *Logger.Logger) *ConnectionManager {
	if sessionTimeout <= 0 {
		sessionTimeout = defaultSessionTimeout
	}
	cm := &ConnectionManager{
		logger:         logger,
		sessions:       make(map[uuid.UUID]*Session),
		stopCleanup:    make(chan struct{}),
		sessionTimeout: sessionTimeout,
	}
	cm.startCleanupRoutine()
	return cm
}

// RegisterConnection registers a new session
func (cm *ConnectionManager) RegisterConnection(session *Session) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.sessions[session.SessionID] = session
	cm.logger.Infof("Registered connection %s (user: %q)", session.SessionID, session.UserID)
}

// UnregisterConnection closes and forgets a session
func (cm *ConnectionManager) UnregisterConnection(id uuid.UUID) {
	cm.mutex.Lock()
	session, exists := cm.sessions[id]
	delete(cm.sessions, id)
	cm.mutex.Unlock()

	if !exists {
		return
	}
	if err := session.Close(); err != nil {
		cm.logger.Debugf("closing connection %s: %v", id, err)
	}
	cm.logger.Infof("Unregistered connection %s", id)
}

// GetSession retrieves a session by connection id
func (cm *ConnectionManager) GetSession(id uuid.UUID) (*Session, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	session, exists := cm.sessions[id]
	return session, exists
}

// GetSessionCount returns the number of active sessions
func (cm *ConnectionManager) GetSessionCount() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return len(cm.sessions)
}

func (cm *ConnectionManager) startCleanupRoutine() {
	cm.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-cm.cleanupTicker.C:
				cm.cleanupExpiredSessions()
			case <-cm.stopCleanup:
				cm.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpiredSessions closes idle connections. Their handlers unwind
// and unregister them.
func (cm *ConnectionManager) cleanupExpiredSessions() {
	cm.mutex.RLock()
	expired := make([]*Session, 0)
	for _, session := range cm.sessions {
		if session.IsExpired(cm.sessionTimeout) {
			expired = append(expired, session)
		}
	}
	cm.mutex.RUnlock()

	for _, session := range expired {
		cm.logger.Infof("Closing idle connection %s", session.SessionID)
		_ = session.Close()
	}
	if len(expired) > 0 {
		cm.logger.Infof("Cleaned up %d idle connections", len(expired))
	}
}

// Close closes every connection and stops the cleanup routine
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.stopCleanup) })

	cm.mutex.RLock()
	sessions := make([]*Session, 0, len(cm.sessions))
	for _, session := range cm.sessions {
		sessions = append(sessions, session)
	}
	cm.mutex.RUnlock()

	for _, session := range sessions {
		_ = session.Close()
	}
	cm.logger.Infof("Connection manager closed")
	return nil
}

// GetStats returns connection manager statistics
func (cm *ConnectionManager) GetStats() map[string]interface{} {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	sessionStats := make([]map[string]interface{}, 0, len(cm.sessions))
	for _, session := range cm.sessions {
		entry := map[string]interface{}{
			"connection_id": session.SessionID.String(),
			"user_id":       session.UserID,
			"connected_at":  session.ConnectedAt,
			"last_active":   session.LastActive(),
			"is_active":     session.IsAlive(),
		}
		if conv := session.Conversation(); conv != nil {
			sc := conv.controller.Session()
			entry["mode"] = string(sc.Mode)
			entry["scenario_id"] = sc.ScenarioID
			entry["state"] = string(conv.controller.State())
			entry["chat_session_id"] = conv.controller.SessionID()
		}
		sessionStats = append(sessionStats, entry)
	}

	return map[string]interface{}{
		"active_sessions": len(cm.sessions),
		"session_timeout": cm.sessionTimeout.String(),
		"sessions":        sessionStats,
	}
}
