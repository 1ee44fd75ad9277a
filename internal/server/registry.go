package server

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Registry tracks the live sessions and implements the broadcast fan-out.
// It is the only holder of the connection set; the coordinator receives it
// through its Publisher dependency rather than reaching for global state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewRegistry returns an empty session registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

func (r *Registry) add(session *Session) {
	r.mu.Lock()
	r.sessions[session.id] = session
	count := len(r.sessions)
	r.mu.Unlock()
	r.logger.Info("client connected",
		zap.String("session_id", session.id), zap.Int("live_sessions", count))
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	count := len(r.sessions)
	r.mu.Unlock()
	if ok {
		session.close()
		r.logger.Info("client disconnected",
			zap.String("session_id", sessionID), zap.Int("live_sessions", count))
	}
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Publish delivers a message to every live session except the excluded ids.
// Sessions that cannot keep up are skipped; liveness detection tears them
// down separately.
func (r *Registry) Publish(message any, excludedSessionIDs ...string) {
	encoded, err := json.Marshal(message)
	if err != nil {
		r.logger.Error("broadcast message encode failed", zap.Error(err))
		return
	}

	excluded := make(map[string]bool, len(excludedSessionIDs))
	for _, id := range excludedSessionIDs {
		excluded[id] = true
	}

	r.mu.RLock()
	recipients := make([]*Session, 0, len(r.sessions))
	for id, session := range r.sessions {
		if excluded[id] {
			continue
		}
		recipients = append(recipients, session)
	}
	r.mu.RUnlock()

	for _, session := range recipients {
		if err := session.enqueue(encoded); err != nil {
			r.logger.Warn("broadcast delivery dropped",
				zap.String("session_id", session.id), zap.Error(err))
		}
	}
}
