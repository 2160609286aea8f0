package agent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Sessions tracks open sessions and closes those left idle.
type Sessions struct {
	agent *Agent
	idle  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a manager. idle <= 0 keeps sessions until closed.
func NewSessions(a *Agent, idle time.Duration) *Sessions {
	return &Sessions{
		agent:    a,
		idle:     idle,
		sessions: make(map[string]*Session),
	}
}

// Open starts a new session and tracks it.
func (m *Sessions) Open() *Session {
	s := m.agent.NewSession()
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

// Get returns a tracked session, or resumes id from memory when it is not
// open. Resumed sessions are tracked from then on.
func (m *Sessions) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := m.agent.Resume(id)
	m.sessions[id] = s
	return s
}

// Close closes and forgets a session. It reports whether the session was open.
func (m *Sessions) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of open sessions.
func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions whose last turn started more than the idle timeout
// before now and returns their ids in sorted order.
func (m *Sessions) Sweep(now time.Time) []string {
	if m.idle <= 0 {
		return nil
	}
	var expired []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > m.idle {
			expired = append(expired, id)
			delete(m.sessions, id)
			s.Close()
		}
	}
	m.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		m.agent.logger.Info("session expired", "session_id", id)
	}
	return expired
}

// Run sweeps every interval until ctx is done.
func (m *Sessions) Run(ctx context.Context, interval time.Duration) {
	if m.idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}
