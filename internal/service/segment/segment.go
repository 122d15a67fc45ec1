package segment

import "sync"

// Manager issues segment ids per session. The first id for a session is 0
// and every call to Next returns the previous id plus one.
type Manager struct {
	mu         sync.Mutex
	perSession map[string]int64
}

func New() *Manager {
	return &Manager{perSession: make(map[string]int64)}
}

func (m *Manager) Next(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := int64(0)
	if cur, ok := m.perSession[sessionID]; ok {
		next = cur + 1
	}
	m.perSession[sessionID] = next
	return next
}

// Current returns the last issued id, or 0 if none was issued.
func (m *Manager) Current(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perSession[sessionID]
}

// Forget drops the counter for a finished session.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.perSession, sessionID)
}
