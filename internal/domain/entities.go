// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"time"
)

// Context aliases context.Context for port signatures.
type Context = context.Context

// Plan identifies a billing plan. Plans and their limits are supplied by the
// external billing component; the core only reads them.
type Plan string

// Plan values.
const (
	// PlanFree is the default plan for new users.
	PlanFree Plan = "free"
	// PlanPro is the paid individual plan.
	PlanPro Plan = "pro"
	// PlanBusiness is the paid team plan.
	PlanBusiness Plan = "business"
)

// PlanLimits is the fixed per-plan feature table. The core never mutates it.
type PlanLimits struct {
	// MaxSessions caps the number of authorized sessions per user.
	MaxSessions int `yaml:"max_sessions"`
	// MaxPairs caps the number of forwarding pairs per user.
	MaxPairs int `yaml:"max_pairs"`
	// MsgsPerDay is an optional soft cap on enqueued messages per day; 0 disables it.
	MsgsPerDay int `yaml:"msgs_per_day"`
	// AdvancedFiltering gates keyword substitution and watermark transforms.
	AdvancedFiltering bool `yaml:"advanced_filtering"`
}

// User is a tenant of the forwarding engine.
type User struct {
	// ID is the unique identifier for the user.
	ID string
	// Plan is the user's current billing plan.
	Plan Plan
	// PlanExpiry is when the plan lapses, if it does.
	PlanExpiry *time.Time
	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time
}

// Session is an authorized connection to the messaging platform on behalf of
// one of a user's accounts. Credentials is an opaque sealed blob; only the
// platform client adapter may open it, and it must never be logged.
type Session struct {
	ID           string
	UserID       string
	Phone        string
	Credentials  []byte
	Active       bool
	DisplayName  string
	LastHealthAt *time.Time
	CreatedAt    time.Time
}

// Usable reports whether the platform client pool may open this session.
func (s Session) Usable() bool { return s.Active && len(s.Credentials) > 0 }

// PairState captures the lifecycle state of a forwarding pair.
type PairState string

// Pair state values.
const (
	// PairActive means the pair forwards new source messages.
	PairActive PairState = "active"
	// PairPaused means the pair is temporarily suspended and may be resumed.
	PairPaused PairState = "paused"
	// PairStopped means the pair was stopped by its owner.
	PairStopped PairState = "stopped"
	// PairError means the pair was suspended by the engine after a fault.
	PairError PairState = "error"
)

// MessageTypeFilter restricts which event payload kinds a pair forwards.
type MessageTypeFilter string

// Message type filter values.
const (
	// FilterAll forwards every message kind.
	FilterAll MessageTypeFilter = "all"
	// FilterMedia forwards only messages carrying media.
	FilterMedia MessageTypeFilter = "media"
	// FilterText forwards only plain text messages.
	FilterText MessageTypeFilter = "text"
)

// PairStats are running counters for a pair. Drops by the filter pipeline are
// counted in Filtered, never in Failed.
type PairStats struct {
	Forwarded  int64
	Successful int64
	Failed     int64
	Filtered   int64
	LastAt     *time.Time
}

// Pair is a directed forwarding configuration (source -> destination) owned by
// a user and bound to one of their sessions.
//
// Invariants: 0 <= DelayMin <= DelayMax <= 24h; SessionID belongs to UserID;
// pairs per user never exceed the plan's MaxPairs; PairActive requires the
// session to be active.
type Pair struct {
	ID             string
	UserID         string
	SessionID      string
	SourceRef      string
	DestinationRef string
	State          PairState
	DelayMin       time.Duration
	DelayMax       time.Duration
	CopyMode       bool
	Silent         bool
	ForwardEdits   bool
	ForwardDeletes bool
	TypeFilter     MessageTypeFilter
	Chain          bool
	// Serialized forces at most one in-flight send for the pair at a time.
	Serialized bool
	// Substitutions maps phrases to replacements; applied to message text only
	// when the owner's plan has advanced filtering.
	Substitutions map[string]string
	// Watermark is appended to forwarded text, same plan gate.
	Watermark string
	Stats     PairStats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MaxPairDelay bounds the configurable per-pair delay.
const MaxPairDelay = 24 * time.Hour

// ValidateDelays checks the pair delay window invariant.
func (p Pair) ValidateDelays() error {
	if p.DelayMin < 0 || p.DelayMax < p.DelayMin || p.DelayMax > MaxPairDelay {
		return ErrInvalidArgument
	}
	return nil
}

// BlockedPhrase drops messages whose text contains Text case-insensitively.
// PairID nil applies the rule to every pair of the user.
type BlockedPhrase struct {
	ID     string
	UserID string
	PairID *string
	Text   string
	Active bool
}

// BlockedImage drops image messages whose perceptual hash matches ImageHash.
// PairID nil applies the rule to every pair of the user.
type BlockedImage struct {
	ID        string
	UserID    string
	PairID    *string
	ImageHash string
	Active    bool
}

// QueueItemStatus captures the lifecycle state of a queued send.
type QueueItemStatus string

// Queue item status values.
const (
	// ItemPending means the item awaits a worker at or after ScheduledAt.
	ItemPending QueueItemStatus = "pending"
	// ItemProcessing means exactly one worker holds the item.
	ItemProcessing QueueItemStatus = "processing"
	// ItemCompleted means the send succeeded.
	ItemCompleted QueueItemStatus = "completed"
	// ItemFailed means the item exhausted retries or hit a terminal error.
	ItemFailed QueueItemStatus = "failed"
	// ItemCleared means the item was archived: a failed item cleared by an
	// operator, or a pending or processing item of a deleted pair.
	ItemCleared QueueItemStatus = "cleared"
)

// Terminal reports whether the status ends the item's lifecycle.
func (s QueueItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemCleared
}

// MaxAttempts bounds retries for a queue item before it goes to ItemFailed.
const MaxAttempts = 3

// QueueItem is one scheduled unit of work: one source message to reproduce on
// one destination. At most one item per (PairID, SourceMessageID) may exist in
// a non-terminal status at any time.
type QueueItem struct {
	ID              string
	PairID          string
	Kind            EventKind
	SourceMessageID int64
	SourceRef       string
	DestinationRef  string
	Payload         MessageSnapshot
	ScheduledAt     time.Time
	Status          QueueItemStatus
	Attempts        int
	LastError       string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// ActivityEntry is an append-only audit record. Entries are never mutated.
type ActivityEntry struct {
	ID        string
	UserID    string
	PairID    *string
	SessionID *string
	Kind      string
	Message   string
	Metadata  map[string]any
	At        time.Time
}

// Activity entry kinds emitted by the core.
const (
	ActivityMessageForwarded   = "message_forwarded"
	ActivityMessageFailed      = "message_failed"
	ActivitySessionDeactivated = "session_deactivated"
	ActivityIngressOverflow    = "ingress_overflow"
	ActivityEmergencyStop      = "emergency_stop"
	ActivityPairCreated        = "pair_created"
	ActivityPairDeleted        = "pair_deleted"
	ActivityRateWarning        = "rate_warning"
)

// SessionHealth is the in-memory health projection for one session, rebuilt
// from Session rows at startup.
type SessionHealth struct {
	SessionID           string
	Healthy             bool
	LastCheck           time.Time
	ConsecutiveFailures int
	RecentErrors        []string
}

// DashboardStats is the per-user summary served to the dashboard.
type DashboardStats struct {
	ActivePairs       int            `json:"active_pairs"`
	MessagesToday     int64          `json:"messages_today"`
	SuccessRate       float64        `json:"success_rate"`
	ConnectedAccounts int            `json:"connected_accounts"`
	QueueCounts       map[string]int `json:"queue_counts"`
}

// AdminStats is the instance-wide summary served to admins.
type AdminStats struct {
	UsersByPlan      map[string]int `json:"users_by_plan"`
	TotalPairs       int            `json:"total_pairs"`
	TotalSessions    int            `json:"total_sessions"`
	QueueCounts      map[string]int `json:"queue_counts"`
	UnresolvedErrors int            `json:"unresolved_errors"`
}
