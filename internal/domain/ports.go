package domain

import "time"

// Repositories (ports)

//go:generate mockery --name=UserRepository --with-expecter --filename=user_repository_mock.go
//go:generate mockery --name=SessionRepository --with-expecter --filename=session_repository_mock.go
//go:generate mockery --name=PairRepository --with-expecter --filename=pair_repository_mock.go
//go:generate mockery --name=FilterRepository --with-expecter --filename=filter_repository_mock.go
//go:generate mockery --name=QueueRepository --with-expecter --filename=queue_repository_mock.go
//go:generate mockery --name=ActivityRepository --with-expecter --filename=activity_repository_mock.go
//go:generate mockery --name=StatsRepository --with-expecter --filename=stats_repository_mock.go
//go:generate mockery --name=PlatformClient --with-expecter --filename=platform_client_mock.go

// UserRepository manages tenant rows.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx Context, u User) (string, error)
	// Get loads a user by id.
	Get(ctx Context, id string) (User, error)
	// Delete removes a user; sessions and pairs cascade at the store.
	Delete(ctx Context, id string) error
	// CountByPlan returns user counts keyed by plan name.
	CountByPlan(ctx Context) (map[string]int, error)
}

// SessionRepository manages authorized platform sessions.
type SessionRepository interface {
	Create(ctx Context, s Session) (string, error)
	Get(ctx Context, id string) (Session, error)
	ListByUser(ctx Context, userID string) ([]Session, error)
	// ListUsable returns sessions with active=true and a non-empty credential blob.
	ListUsable(ctx Context) ([]Session, error)
	// UpdateCredentials replaces the sealed credential blob and display name
	// after a successful authentication handshake.
	UpdateCredentials(ctx Context, id string, credentials []byte, displayName string) error
	// SetActive flips the active flag.
	SetActive(ctx Context, id string, active bool) error
	// TouchHealth records a successful health probe.
	TouchHealth(ctx Context, id string, at time.Time) error
	Delete(ctx Context, id string) error
	CountByUser(ctx Context, userID string) (int, error)
	Count(ctx Context) (int, error)
}

// StatsDelta is an increment applied to a pair's running counters.
type StatsDelta struct {
	Forwarded  int64
	Successful int64
	Failed     int64
	Filtered   int64
	LastAt     *time.Time
}

// PairRepository manages forwarding pairs. Create and Delete run their
// cross-entity writes (activity entry, queue cancellation) in one transaction.
type PairRepository interface {
	Create(ctx Context, p Pair) (Pair, error)
	Get(ctx Context, id string) (Pair, error)
	ListByUser(ctx Context, userID string) ([]Pair, error)
	ListBySession(ctx Context, sessionID string) ([]Pair, error)
	// ListActiveBySource resolves the pairs subscribed to a source channel.
	ListActiveBySource(ctx Context, sessionID, sourceRef string) ([]Pair, error)
	// Update replaces the mutable pair options.
	Update(ctx Context, p Pair) (Pair, error)
	UpdateState(ctx Context, id string, state PairState) error
	BulkUpdateState(ctx Context, ids []string, state PairState) (int64, error)
	// PauseAllForSession pauses every active pair bound to the session.
	PauseAllForSession(ctx Context, sessionID string) (int64, error)
	// IncrStats applies counter deltas without touching other columns.
	IncrStats(ctx Context, id string, d StatsDelta) error
	// Delete removes the pair and transitions its non-terminal queue items to
	// cleared within the same transaction.
	Delete(ctx Context, id string) error
	CountByUser(ctx Context, userID string) (int, error)
	Count(ctx Context) (int, error)
}

// FilterRepository manages blocked-phrase and blocked-image rules.
type FilterRepository interface {
	// PhrasesFor returns active phrase rules for the pair: pair-scoped rules
	// first, then user-wide rules.
	PhrasesFor(ctx Context, userID, pairID string) ([]BlockedPhrase, error)
	// ImagesFor returns active image rules for the pair, same ordering.
	ImagesFor(ctx Context, userID, pairID string) ([]BlockedImage, error)
	AddPhrase(ctx Context, p BlockedPhrase) (string, error)
	DeletePhrase(ctx Context, id string) error
	ListPhrases(ctx Context, userID string) ([]BlockedPhrase, error)
	AddImage(ctx Context, im BlockedImage) (string, error)
	DeleteImage(ctx Context, id string) error
	ListImages(ctx Context, userID string) ([]BlockedImage, error)
}

// QueueRepository is the durable delivery queue.
type QueueRepository interface {
	// Enqueue inserts a pending item. While a non-terminal item exists for the
	// same (pair_id, source_message_id) the call is a no-op returning the
	// existing item's id.
	Enqueue(ctx Context, it QueueItem) (string, error)
	// ClaimDue atomically transitions up to limit pending items with
	// scheduled_at <= now into processing and returns them. Items whose pair is
	// no longer active are not claimed. Serializable across callers.
	ClaimDue(ctx Context, now time.Time, limit int) ([]QueueItem, error)
	// Complete marks a processing item delivered.
	Complete(ctx Context, id string, at time.Time) error
	// Fail terminally fails a processing item.
	Fail(ctx Context, id, lastError string, at time.Time) error
	// Retry returns a processing item to pending at nextAt; countAttempt
	// increments the attempt counter (rate-limit retries do not count).
	Retry(ctx Context, id, lastError string, nextAt time.Time, countAttempt bool) error
	// Release rolls a processing item back to pending with its original
	// scheduled_at, for cancellation and shutdown.
	Release(ctx Context, id string) error
	// ReleaseAllProcessing releases every processing item; used at shutdown and
	// startup recovery. Returns the number released.
	ReleaseAllProcessing(ctx Context) (int64, error)
	// ClearFailed transitions all failed items to cleared and returns the count.
	ClearFailed(ctx Context) (int64, error)
	// StatsByStatus returns item counts keyed by status.
	StatsByStatus(ctx Context) (map[string]int, error)
	// ListFailedByPair returns failed items for the pair detail view.
	ListFailedByPair(ctx Context, pairID string, limit int) ([]QueueItem, error)
}

// ActivityRepository is the append-only audit log.
type ActivityRepository interface {
	Append(ctx Context, e ActivityEntry) error
	ListRecent(ctx Context, userID string, limit int) ([]ActivityEntry, error)
	// PurgeBefore deletes entries older than cutoff and returns the count.
	PurgeBefore(ctx Context, cutoff time.Time) (int64, error)
}

// StatsRepository serves aggregate reads.
type StatsRepository interface {
	Dashboard(ctx Context, userID string) (DashboardStats, error)
	Admin(ctx Context) (AdminStats, error)
}

// Dialog is one channel or group visible to a session.
type Dialog struct {
	Ref   string `json:"ref"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

// PlatformClient is the pool of per-session connections to the messaging
// platform. Implementations translate raw platform failures into
// PlatformError; callers never see raw error strings.
type PlatformClient interface {
	// Open dials the platform and resumes the authenticated session. Inbound
	// updates are delivered on the returned channel until Close. The channel is
	// bounded; on overflow the oldest buffered update is dropped.
	Open(ctx Context, s Session) (<-chan UpdateEvent, error)
	// SendOTP asks the platform to dispatch a one-time code to the phone and
	// returns the code hash to pair with the user-entered code.
	SendOTP(ctx Context, phone string) (string, error)
	// VerifyOTP finalizes authentication and returns the session updated with a
	// fresh sealed credential blob and display name.
	VerifyOTP(ctx Context, s Session, code, codeHash string) (Session, error)
	// ListDialogs enumerates channels and groups visible to the session.
	ListDialogs(ctx Context, sessionID string) ([]Dialog, error)
	// Forward reposts the source message preserving attribution.
	Forward(ctx Context, sessionID, sourceRef, destRef string, messageID int64, silent bool) error
	// Copy posts the snapshot as a new message, attribution stripped.
	Copy(ctx Context, sessionID, destRef string, snap MessageSnapshot, silent bool) error
	// HealthPing is a lightweight liveness RPC for the session.
	HealthPing(ctx Context, sessionID string) error
	// Close releases the session's connection.
	Close(ctx Context, sessionID string) error
}

// EventPublisher fans activity entries out to external consumers. Publishing
// is best-effort; the engine never blocks on it.
type EventPublisher interface {
	Publish(ctx Context, e ActivityEntry) error
}

// DailyCounter tracks per-user message counts for the msgs_per_day soft cap.
type DailyCounter interface {
	// Incr adds one to today's count and returns the new value.
	Incr(ctx Context, userID string) (int64, error)
	// Today returns today's count.
	Today(ctx Context, userID string) (int64, error)
}
