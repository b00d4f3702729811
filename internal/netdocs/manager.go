package netdocs

import (
	"sync"

	"go.uber.org/zap"

	"docbridge/pkg/health"
	"docbridge/pkg/problems"
	"docbridge/pkg/tenants"
)

// Manager caches one Session per tenant alias, mirroring the prime manager's
// first-writer-wins discipline.
type Manager struct {
	log *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(log *zap.SugaredLogger) *Manager {
	return &Manager{log: log, sessions: map[string]*Session{}}
}

func (m *Manager) GetOrCreate(alias string, cfg tenants.NetDocsConfig) (*Session, error) {
	a := tenants.NormalizeAlias(alias)
	if a == "" {
		return nil, problems.InvalidArgument("tenant alias must be specified")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[a]; ok {
		return s, nil
	}
	s := newSession(m.log, cfg)
	m.sessions[a] = s
	return s, nil
}

func (m *Manager) Get(alias string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[tenants.NormalizeAlias(alias)]; ok {
		return s, nil
	}
	return nil, problems.NotFound("cannot find configuration for tenant %s", alias)
}

func (m *Manager) Healths() map[string]health.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]health.Status, len(m.sessions))
	for alias, s := range m.sessions {
		out[alias] = s.Health()
	}
	return out
}
