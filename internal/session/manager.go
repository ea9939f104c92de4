// Package session implements the hub's session table: session records with
// TTL and touch-extend-on-activity, plus a client_id -> session_ids index.
package session

import (
	"sync"
	"time"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

// Manager is a concurrent, in-memory session store. The zero value is not
// usable; use New.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	byClient map[string][]string
}

func New() *Manager {
	return &Manager{
		sessions: make(map[string]*domain.Session),
		byClient: make(map[string][]string),
	}
}

// CreateSession inserts a new session record. It fails with domain.ErrConflict
// if session_id already exists.
func (m *Manager) CreateSession(s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.SessionID]; exists {
		return domain.ErrConflict
	}
	cp := *s
	m.sessions[s.SessionID] = &cp
	m.byClient[s.ClientID] = append(m.byClient[s.ClientID], s.SessionID)
	return nil
}

// GetSession returns the session, filtering out ones already expired.
func (m *Manager) GetSession(id string, now time.Time) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.Expired(now) {
		return nil, domain.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// TouchSession sets last_activity=now and extends expires_at=now+ttl. It
// distinguishes a session that exists but is past its TTL (ErrSessionExpired)
// from one that is simply absent (ErrSessionNotFound).
func (m *Manager) TouchSession(id string, now time.Time, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.Expired(now) {
		return domain.ErrSessionExpired
	}
	s.LastActivity = now
	s.ExpiresAt = now.Add(ttl)
	return nil
}

// RemoveSession deletes a session unconditionally.
func (m *Manager) RemoveSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.byClient[s.ClientID] = removeString(m.byClient[s.ClientID], id)
	if len(m.byClient[s.ClientID]) == 0 {
		delete(m.byClient, s.ClientID)
	}
	return nil
}

// IsValid is a cheap existence+TTL check.
func (m *Manager) IsValid(id string, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return ok && !s.Expired(now)
}

// GetSessionsForClient returns every session id indexed for a client,
// including ones past their TTL that CleanupExpired has not yet removed.
func (m *Manager) GetSessionsForClient(clientID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]string(nil), m.byClient[clientID]...)
	return out
}

// CleanupExpired scans and removes every session past its TTL, returning
// the count removed.
func (m *Manager) CleanupExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			m.byClient[s.ClientID] = removeString(m.byClient[s.ClientID], id)
			if len(m.byClient[s.ClientID]) == 0 {
				delete(m.byClient, s.ClientID)
			}
			removed++
		}
	}
	return removed
}

func removeString(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
