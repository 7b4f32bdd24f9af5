package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionManager keeps the live chat sessions of all users and evicts idle
// ones.
type SessionManager struct {
	deps    SessionDeps
	idleTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*ChatSession

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSessionManager(deps SessionDeps, idleTTL time.Duration) *SessionManager {
	return &SessionManager{
		deps:     deps.withDefaults(),
		idleTTL:  idleTTL,
		sessions: make(map[string]*ChatSession),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the idle eviction loop until Stop is called.
func (m *SessionManager) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.EvictIdle(); n > 0 {
					slog.Info("evicted idle chat sessions", "count", n)
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *SessionManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Create starts a session for userID and mounts it, optionally on an
// existing transcript. The session is registered even when loading the
// transcript fails; the error is returned alongside its view.
func (m *SessionManager) Create(ctx context.Context, userID, transcriptID string) (*ChatSession, SessionView, error) {
	s := NewChatSession(uuid.NewString(), userID, m.deps)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	view, err := s.Mount(ctx, transcriptID)
	return s, view, err
}

// Get returns the session with id if it belongs to userID.
func (m *SessionManager) Get(userID, id string) (*ChatSession, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok || s.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close drops the session. Pending answers for it are discarded on arrival.
func (m *SessionManager) Close(userID, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.UserID() != userID {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.invalidate()
	return nil
}

// CloseUser drops every session of userID, e.g. on sign-out.
func (m *SessionManager) CloseUser(userID string) int {
	var closed []*ChatSession
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.UserID() == userID {
			delete(m.sessions, id)
			closed = append(closed, s)
		}
	}
	m.mu.Unlock()

	for _, s := range closed {
		s.invalidate()
	}
	return len(closed)
}

// EvictIdle removes sessions without activity for longer than the idle TTL.
// Session locks are never taken while the registry lock is held.
func (m *SessionManager) EvictIdle() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.deps.Now().Add(-m.idleTTL)

	m.mu.RLock()
	all := make([]*ChatSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var idle []*ChatSession
	for _, s := range all {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	if len(idle) == 0 {
		return 0
	}

	n := 0
	m.mu.Lock()
	for _, s := range idle {
		if m.sessions[s.ID()] == s {
			delete(m.sessions, s.ID())
			n++
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.invalidate()
	}
	return n
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
