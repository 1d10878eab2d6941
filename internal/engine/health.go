package engine

import (
	"sync"
	"time"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// maxRecentErrors bounds the per-session error ring kept for the dashboard.
const maxRecentErrors = 10

// HealthRegistry is the in-memory SessionHealth projection, rebuilt from
// session rows at startup and maintained by the supervisor.
type HealthRegistry struct {
	mu     sync.RWMutex
	health map[string]*domain.SessionHealth
}

// NewHealthRegistry constructs an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{health: map[string]*domain.SessionHealth{}}
}

// Seed rebuilds the projection from stored sessions.
func (r *HealthRegistry) Seed(sessions []domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sessions {
		h := &domain.SessionHealth{SessionID: s.ID, Healthy: s.Active}
		if s.LastHealthAt != nil {
			h.LastCheck = *s.LastHealthAt
		}
		r.health[s.ID] = h
	}
}

func (r *HealthRegistry) entry(sessionID string) *domain.SessionHealth {
	if h, ok := r.health[sessionID]; ok {
		return h
	}
	h := &domain.SessionHealth{SessionID: sessionID}
	r.health[sessionID] = h
	return h
}

// MarkHealthy records a successful probe and resets the failure streak.
func (r *HealthRegistry) MarkHealthy(sessionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.entry(sessionID)
	h.Healthy = true
	h.LastCheck = at
	h.ConsecutiveFailures = 0
}

// MarkFailure records a failed probe and returns the new streak length.
func (r *HealthRegistry) MarkFailure(sessionID string, at time.Time, errMsg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.entry(sessionID)
	h.Healthy = false
	h.LastCheck = at
	h.ConsecutiveFailures++
	h.RecentErrors = append(h.RecentErrors, errMsg)
	if len(h.RecentErrors) > maxRecentErrors {
		h.RecentErrors = h.RecentErrors[len(h.RecentErrors)-maxRecentErrors:]
	}
	return h.ConsecutiveFailures
}

// Forget drops a session from the projection after deletion.
func (r *HealthRegistry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.health, sessionID)
}

// Snapshot returns a copy of one session's health.
func (r *HealthRegistry) Snapshot(sessionID string) (domain.SessionHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[sessionID]
	if !ok {
		return domain.SessionHealth{}, false
	}
	out := *h
	out.RecentErrors = append([]string(nil), h.RecentErrors...)
	return out, true
}

// All returns a copy of every session's health.
func (r *HealthRegistry) All() []domain.SessionHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SessionHealth, 0, len(r.health))
	for _, h := range r.health {
		cp := *h
		cp.RecentErrors = append([]string(nil), h.RecentErrors...)
		out = append(out, cp)
	}
	return out
}
