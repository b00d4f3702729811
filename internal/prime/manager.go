package prime

import (
	"sync"

	"go.uber.org/zap"

	"docbridge/pkg/config"
	"docbridge/pkg/health"
	"docbridge/pkg/problems"
	"docbridge/pkg/tenants"
)

// Manager caches one Session per tenant alias. Sessions are created lazily on
// first access and never evicted; later call failures degrade the session's
// health instead of recreating it.
type Manager struct {
	log *zap.SugaredLogger
	cfg config.PrimeConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(log *zap.SugaredLogger, cfg config.PrimeConfig) *Manager {
	return &Manager{log: log, cfg: cfg, sessions: map[string]*Session{}}
}

// GetOrCreate returns the session for the tenant, constructing it on first
// call. Repeat calls ignore the supplied configuration (first-writer-wins).
// The lock spans the check-then-insert so concurrent first creations of the
// same alias yield one session.
func (m *Manager) GetOrCreate(tc tenants.PrimeTenantConfig) (*Session, error) {
	alias := tenants.NormalizeAlias(tc.Tenant)
	if alias == "" {
		return nil, problems.InvalidArgument("tenant alias must be specified")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[alias]; ok {
		return s, nil
	}
	s := newSession(m.log, m.cfg, alias, tc.APIURL)
	m.sessions[alias] = s
	return s, nil
}

// Get returns the existing session for the alias; it never triggers creation.
func (m *Manager) Get(alias string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[tenants.NormalizeAlias(alias)]; ok {
		return s, nil
	}
	return nil, problems.NotFound("cannot find configuration for tenant %s", alias)
}

// Healths snapshots every session's health status, keyed by alias.
func (m *Manager) Healths() map[string]health.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]health.Status, len(m.sessions))
	for alias, s := range m.sessions {
		out[alias] = s.Health()
	}
	return out
}
