// Package engine contains the forwarding core: session supervision, ingress
// routing, the filter pipeline, the delivery dispatcher, and the anti-ban
// controller.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sunil55999/autoforwardx/internal/adapter/observability"
	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
)

// AntiBanConfig carries the per-session send limits and level thresholds.
type AntiBanConfig struct {
	PerMinute int
	PerHour   int
	WarnAt    float64
	CritAt    float64
}

// AntiBan observes sends and platform errors per session and answers the
// dispatcher's two questions: how hard to throttle, and whether sending is
// allowed at all. One RateState per session, each guarded by the controller's
// lock; states never cross sessions.
type AntiBan struct {
	cfg   AntiBanConfig
	audit *audit.Logger
	now   func() time.Time

	mu     sync.RWMutex
	states map[string]*domain.RateState
	// lastSend paces throttled sessions: required gap between sends grows with
	// the multiplier.
	lastSend map[string]time.Time
}

// NewAntiBan constructs the controller.
func NewAntiBan(cfg AntiBanConfig, aud *audit.Logger) *AntiBan {
	return &AntiBan{
		cfg:      cfg,
		audit:    aud,
		now:      time.Now,
		states:   map[string]*domain.RateState{},
		lastSend: map[string]time.Time{},
	}
}

func (a *AntiBan) state(sessionID string) *domain.RateState {
	if rs, ok := a.states[sessionID]; ok {
		return rs
	}
	rs := domain.NewRateState(sessionID, a.now())
	a.states[sessionID] = rs
	return rs
}

// RecordSend counts one delivered message and recomputes the level. A level
// escalation is surfaced as a rate_warning activity entry.
func (a *AntiBan) RecordSend(ctx context.Context, userID, sessionID string) {
	now := a.now()
	a.mu.Lock()
	rs := a.state(sessionID)
	rs.RecordSend(now)
	escalated := rs.UpdateLevel(now, a.cfg.PerMinute, a.cfg.PerHour, a.cfg.WarnAt, a.cfg.CritAt)
	level := rs.Level
	a.lastSend[sessionID] = now
	a.mu.Unlock()

	observability.ThrottleLevel.WithLabelValues(sessionID).Set(levelGauge(level))
	if escalated && a.audit != nil {
		a.audit.Record(ctx, domain.ActivityEntry{
			UserID:    userID,
			SessionID: &sessionID,
			Kind:      domain.ActivityRateWarning,
			Message:   "send volume crossed throttle threshold",
			Metadata:  map[string]any{"level": string(level)},
		})
	}
}

// RecordRateLimit notes a platform rate-limit error for adaptive throttling.
func (a *AntiBan) RecordRateLimit(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state(sessionID).RecordRateLimit(a.now())
}

// Multiplier returns the session's current throttle multiplier; 0 means halt.
func (a *AntiBan) Multiplier(sessionID string) float64 {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	rs := a.state(sessionID)
	rs.UpdateLevel(now, a.cfg.PerMinute, a.cfg.PerHour, a.cfg.WarnAt, a.cfg.CritAt)
	return rs.Multiplier(now)
}

// Level returns the session's current level.
func (a *AntiBan) Level(sessionID string) domain.RateLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if rs, ok := a.states[sessionID]; ok {
		return rs.Level
	}
	return domain.RateSafe
}

// NextSendGap returns how long the session must still wait before its next
// send under the current multiplier. Zero when the session may send now. The
// gap grows with (multiplier-1) so an unthrottled session is never paced.
func (a *AntiBan) NextSendGap(sessionID string) time.Duration {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	rs := a.state(sessionID)
	rs.UpdateLevel(now, a.cfg.PerMinute, a.cfg.PerHour, a.cfg.WarnAt, a.cfg.CritAt)
	m := rs.Multiplier(now)
	if m <= 1 {
		return 0
	}
	minInterval := time.Minute / time.Duration(maxInt(a.cfg.PerMinute, 1))
	gap := time.Duration(float64(minInterval) * (m - 1))
	last, ok := a.lastSend[sessionID]
	if !ok {
		return 0
	}
	if wait := gap - now.Sub(last); wait > 0 {
		return wait
	}
	return 0
}

// BudgetExceeded reports whether the next send would break the minute or hour
// budget, and when the binding window resets.
func (a *AntiBan) BudgetExceeded(sessionID string) (bool, time.Time) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	rs := a.state(sessionID)
	rs.RollWindows(now)
	if a.cfg.PerMinute > 0 && rs.MsgsThisMinute >= a.cfg.PerMinute {
		return true, rs.MinuteWindowStart.Add(time.Minute)
	}
	if a.cfg.PerHour > 0 && rs.MsgsThisHour >= a.cfg.PerHour {
		return true, rs.HourWindowStart.Add(time.Hour)
	}
	return false, time.Time{}
}

// MarkBanned pins the session at banned until ClearBan.
func (a *AntiBan) MarkBanned(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state(sessionID).MarkBanned()
	observability.ThrottleLevel.WithLabelValues(sessionID).Set(levelGauge(domain.RateBanned))
}

// ClearBan lifts a ban pin after operator intervention.
func (a *AntiBan) ClearBan(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state(sessionID).ClearBan()
}

// Snapshot returns a copy of the session's counters for the control plane.
func (a *AntiBan) Snapshot(sessionID string) domain.RateState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if rs, ok := a.states[sessionID]; ok {
		return *rs
	}
	return *domain.NewRateState(sessionID, a.now())
}

// RunWindowReset rolls counters periodically so levels decay even on idle
// sessions, and keeps the throttle gauge fresh.
func (a *AntiBan) RunWindowReset(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := a.now()
			a.mu.Lock()
			for id, rs := range a.states {
				rs.UpdateLevel(now, a.cfg.PerMinute, a.cfg.PerHour, a.cfg.WarnAt, a.cfg.CritAt)
				observability.ThrottleLevel.WithLabelValues(id).Set(levelGauge(rs.Level))
			}
			a.mu.Unlock()
		}
	}
}

func levelGauge(l domain.RateLevel) float64 {
	switch l {
	case domain.RateBanned:
		return 3
	case domain.RateCritical:
		return 2
	case domain.RateWarning:
		return 1
	default:
		return 0
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
