package domain

import "time"

// RateLevel is the anti-ban severity for one session.
type RateLevel string

// Rate levels, ordered by severity.
const (
	RateSafe     RateLevel = "safe"
	RateWarning  RateLevel = "warning"
	RateCritical RateLevel = "critical"
	RateBanned   RateLevel = "banned"
)

// rateLimitMemory is how long a platform rate-limit error influences the
// adaptive throttle multiplier.
const rateLimitMemory = 10 * time.Minute

// RateState tracks send volume and throttle posture for one session. Counters
// are per-session and never shared. The anti-ban controller owns the locking;
// the methods here are plain state transitions.
type RateState struct {
	SessionID         string
	MsgsThisMinute    int
	MsgsThisHour      int
	MinuteWindowStart time.Time
	HourWindowStart   time.Time
	Level             RateLevel
	WarningCount      int
	// rateLimitAt holds timestamps of recent platform rate-limit errors.
	rateLimitAt []time.Time
	// bannedUntilCleared pins the level at banned regardless of counters.
	bannedUntilCleared bool
}

// NewRateState returns a fresh state with both windows anchored at now.
func NewRateState(sessionID string, now time.Time) *RateState {
	return &RateState{
		SessionID:         sessionID,
		MinuteWindowStart: now,
		HourWindowStart:   now,
		Level:             RateSafe,
	}
}

// RollWindows resets counters whose window has elapsed.
func (rs *RateState) RollWindows(now time.Time) {
	if now.Sub(rs.MinuteWindowStart) >= time.Minute {
		rs.MsgsThisMinute = 0
		rs.MinuteWindowStart = now
	}
	if now.Sub(rs.HourWindowStart) >= time.Hour {
		rs.MsgsThisHour = 0
		rs.HourWindowStart = now
	}
}

// RecordSend rolls windows and increments both counters.
func (rs *RateState) RecordSend(now time.Time) {
	rs.RollWindows(now)
	rs.MsgsThisMinute++
	rs.MsgsThisHour++
}

// RecordRateLimit notes a platform rate-limit error for adaptive throttling.
func (rs *RateState) RecordRateLimit(now time.Time) {
	rs.rateLimitAt = append(rs.rateLimitAt, now)
	rs.pruneRateLimits(now)
}

func (rs *RateState) pruneRateLimits(now time.Time) {
	cutoff := now.Add(-rateLimitMemory)
	kept := rs.rateLimitAt[:0]
	for _, t := range rs.rateLimitAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rs.rateLimitAt = kept
}

// RecentRateLimits counts rate-limit errors within the adaptive window.
func (rs *RateState) RecentRateLimits(now time.Time) int {
	rs.pruneRateLimits(now)
	return len(rs.rateLimitAt)
}

// MarkBanned pins the level at banned until ClearBan.
func (rs *RateState) MarkBanned() {
	rs.Level = RateBanned
	rs.bannedUntilCleared = true
}

// ClearBan lifts a ban pin; the next UpdateLevel recomputes from counters.
func (rs *RateState) ClearBan() { rs.bannedUntilCleared = false }

// UpdateLevel recomputes the level from counter utilization against the
// configured limits. It returns true when the level escalated; escalations
// from safe also bump WarningCount.
func (rs *RateState) UpdateLevel(now time.Time, perMinute, perHour int, warnAt, critAt float64) bool {
	if rs.bannedUntilCleared {
		rs.Level = RateBanned
		return false
	}
	rs.RollWindows(now)
	util := utilization(rs.MsgsThisMinute, perMinute)
	if h := utilization(rs.MsgsThisHour, perHour); h > util {
		util = h
	}
	next := RateSafe
	switch {
	case util >= critAt:
		next = RateCritical
	case util >= warnAt:
		next = RateWarning
	}
	// A recent platform rate-limit error keeps the session at warning even
	// when its own counters look calm.
	if severity(next) < severity(RateWarning) && rs.RecentRateLimits(now) >= 1 {
		next = RateWarning
	}
	escalated := severity(next) > severity(rs.Level)
	if escalated && rs.Level == RateSafe {
		rs.WarningCount++
	}
	rs.Level = next
	return escalated
}

// Multiplier maps the level to the delay multiplier, adjusted upward by the
// adaptive rule when the session saw rate-limit errors recently. Zero means
// halt.
func (rs *RateState) Multiplier(now time.Time) float64 {
	var m float64
	switch rs.Level {
	case RateBanned:
		return 0
	case RateCritical:
		m = 5.0
	case RateWarning:
		m = 2.0
	default:
		m = 1.0
	}
	if n := rs.RecentRateLimits(now); n >= 1 {
		if adaptive := 1.5 * float64(n); adaptive > m {
			m = adaptive
		}
	}
	return m
}

func utilization(count, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(count) / float64(limit)
}

func severity(l RateLevel) int {
	switch l {
	case RateBanned:
		return 3
	case RateCritical:
		return 2
	case RateWarning:
		return 1
	default:
		return 0
	}
}
