package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunil55999/autoforwardx/internal/adapter/observability"
	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
)

// haltRetryDelay is how far a claimed item is pushed back when its session is
// halted by the anti-ban controller.
const haltRetryDelay = 60 * time.Second

// transientBackoffUnit is the base of the exponential retry backoff for
// transient send failures: 2^attempts * unit.
const transientBackoffUnit = 60 * time.Second

// SessionControl is the slice of supervisor behavior the dispatcher needs
// when a send reveals a session-level fault.
type SessionControl interface {
	// DeactivateSession marks the session unusable pending re-auth and pauses
	// its pairs.
	DeactivateSession(ctx context.Context, sessionID, reason string) error
	// EmergencyStop reacts to a ban indicator: pause pairs, mark unhealthy,
	// pin the anti-ban level at banned.
	EmergencyStop(ctx context.Context, sessionID, reason string) error
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	Workers       int
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Dispatcher runs the delivery workers: claim due items, gate them through
// the anti-ban controller and rate budget, send, and settle the outcome.
type Dispatcher struct {
	cfg     DispatcherConfig
	Queue   domain.QueueRepository
	Pairs   domain.PairRepository
	Client  domain.PlatformClient
	AntiBan *AntiBan
	Control SessionControl
	Ingress *Ingress
	Audit   *audit.Logger
	Log     *slog.Logger

	paused atomic.Bool
	now    func() time.Time

	// serialized pairs hold their lock only across the platform send.
	lockMu    sync.Mutex
	pairLocks map[string]*sync.Mutex

	inflight sync.WaitGroup
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(cfg DispatcherConfig, queue domain.QueueRepository, pairs domain.PairRepository,
	client domain.PlatformClient, antiban *AntiBan, control SessionControl, ingress *Ingress,
	aud *audit.Logger, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 32
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = time.Second
	}
	return &Dispatcher{
		cfg:       cfg,
		Queue:     queue,
		Pairs:     pairs,
		Client:    client,
		AntiBan:   antiban,
		Control:   control,
		Ingress:   ingress,
		Audit:     aud,
		Log:       log,
		now:       time.Now,
		pairLocks: map[string]*sync.Mutex{},
	}
}

// Pause stops workers from claiming new items; in-flight sends finish.
func (d *Dispatcher) Pause() { d.paused.Store(true) }

// Resume lifts a pause.
func (d *Dispatcher) Resume() { d.paused.Store(false) }

// Paused reports the global pause flag.
func (d *Dispatcher) Paused() bool { return d.paused.Load() }

// Run spins up the worker pool and blocks until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(d.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if d.paused.Load() {
			continue
		}
		n, err := d.RunBatch(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.Log.Error("claim batch failed", slog.Int("worker", worker), slog.Any("error", err))
		}
		_ = n
	}
}

// RunBatch claims one batch of due items and processes them in scheduled_at
// order. Returns how many items were claimed.
func (d *Dispatcher) RunBatch(ctx context.Context) (int, error) {
	items, err := d.Queue.ClaimDue(ctx, d.now(), d.cfg.ClaimBatch)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if ctx.Err() != nil {
			// Cancellation must not strand claims in processing.
			if relErr := d.Queue.Release(context.WithoutCancel(ctx), item.ID); relErr != nil {
				d.Log.Error("release on cancel failed", slog.String("item_id", item.ID), slog.Any("error", relErr))
			}
			continue
		}
		d.inflight.Add(1)
		d.Process(ctx, item)
		d.inflight.Done()
	}
	return len(items), nil
}

// Process drives one claimed item to a settled state.
func (d *Dispatcher) Process(ctx context.Context, item domain.QueueItem) {
	pair, err := d.Pairs.Get(ctx, item.PairID)
	if err != nil {
		// Pair deleted between claim and processing: the delete transaction
		// cleared its items, nothing to settle.
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		d.Log.Error("pair load failed", slog.String("item_id", item.ID), slog.Any("error", err))
		if relErr := d.Queue.Release(ctx, item.ID); relErr != nil {
			d.Log.Error("release failed", slog.String("item_id", item.ID), slog.Any("error", relErr))
		}
		return
	}

	// Anti-ban gate: a halted session parks its items.
	if d.AntiBan.Multiplier(pair.SessionID) == 0 {
		d.retry(ctx, item, "session halted by anti-ban controller", d.now().Add(haltRetryDelay), false)
		return
	}
	// Rate budget: at the window edge the item moves to the reset, not dropped.
	if exceeded, resetAt := d.AntiBan.BudgetExceeded(pair.SessionID); exceeded {
		d.retry(ctx, item, "rate budget exhausted", resetAt, false)
		return
	}
	// Throttle pacing: a raised multiplier widens the gap between sends.
	if gap := d.AntiBan.NextSendGap(pair.SessionID); gap > 0 {
		d.retry(ctx, item, "throttled", d.now().Add(gap), false)
		return
	}

	sendErr := d.send(ctx, pair, item)
	if ctx.Err() != nil && sendErr != nil {
		// The worker was cancelled mid-send; roll the claim back.
		if relErr := d.Queue.Release(context.WithoutCancel(ctx), item.ID); relErr != nil {
			d.Log.Error("release on cancel failed", slog.String("item_id", item.ID), slog.Any("error", relErr))
		}
		return
	}
	if sendErr == nil {
		d.settleSuccess(ctx, pair, item)
		return
	}
	d.settleFailure(ctx, pair, item, sendErr)
}

// send performs the platform call, honoring per-pair serialization. Delete
// events are best-effort: the platform offers no way to map the destination
// message, so they settle without a send.
func (d *Dispatcher) send(ctx context.Context, pair domain.Pair, item domain.QueueItem) error {
	if item.Kind == domain.EventDelete {
		d.Log.Debug("deletion propagation is best-effort; no destination mapping",
			slog.String("pair_id", pair.ID),
			slog.Int64("message_id", item.SourceMessageID))
		return nil
	}
	if pair.Serialized {
		lock := d.pairLock(pair.ID)
		lock.Lock()
		defer lock.Unlock()
	}
	start := d.now()
	var err error
	mode := "forward"
	if pair.CopyMode {
		mode = "copy"
		err = d.Client.Copy(ctx, pair.SessionID, item.DestinationRef, item.Payload, pair.Silent)
	} else {
		err = d.Client.Forward(ctx, pair.SessionID, item.SourceRef, item.DestinationRef, item.SourceMessageID, pair.Silent)
	}
	observability.SendDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = string(domain.AsPlatformError(err).Kind)
	}
	observability.SendsTotal.WithLabelValues(mode, outcome).Inc()
	return err
}

func (d *Dispatcher) settleSuccess(ctx context.Context, pair domain.Pair, item domain.QueueItem) {
	now := d.now()
	if err := d.Queue.Complete(ctx, item.ID, now); err != nil {
		d.Log.Error("complete failed", slog.String("item_id", item.ID), slog.Any("error", err))
		return
	}
	delta := domain.StatsDelta{Successful: 1, LastAt: &now}
	if item.Kind != domain.EventDelete {
		delta.Forwarded = 1
	}
	if err := d.Pairs.IncrStats(ctx, pair.ID, delta); err != nil {
		d.Log.Error("stats update failed", slog.String("pair_id", pair.ID), slog.Any("error", err))
	}
	if item.Kind != domain.EventDelete {
		d.AntiBan.RecordSend(ctx, pair.UserID, pair.SessionID)
	}
	d.Audit.Record(ctx, domain.ActivityEntry{
		UserID:    pair.UserID,
		PairID:    &pair.ID,
		SessionID: &pair.SessionID,
		Kind:      domain.ActivityMessageForwarded,
		Message:   "message delivered",
		Metadata: map[string]any{
			"source_message_id": item.SourceMessageID,
			"destination_ref":   item.DestinationRef,
		},
	})
	if pair.Chain && item.Kind == domain.EventNew {
		if err := d.Ingress.EmitChain(ctx, pair.SessionID, pair.DestinationRef, item.SourceMessageID, item.Payload); err != nil {
			d.Log.Error("chain emission failed", slog.String("pair_id", pair.ID), slog.Any("error", err))
		}
	}
}

func (d *Dispatcher) settleFailure(ctx context.Context, pair domain.Pair, item domain.QueueItem, sendErr error) {
	pe := domain.AsPlatformError(sendErr)
	now := d.now()

	switch pe.Kind {
	case domain.PlatformRateLimited:
		d.AntiBan.RecordRateLimit(pair.SessionID)
		wait := pe.Wait
		if wait <= 0 {
			wait = haltRetryDelay
		}
		d.retry(ctx, item, pe.Error(), now.Add(wait), false)

	case domain.PlatformTransient, domain.PlatformUnknown:
		attempt := item.Attempts + 1
		if attempt < domain.MaxAttempts {
			backoff := time.Duration(1<<uint(attempt)) * transientBackoffUnit
			d.retry(ctx, item, pe.Error(), now.Add(backoff), true)
			return
		}
		d.failItem(ctx, pair, item, pe.Error())

	case domain.PlatformAuthExpired:
		d.failItem(ctx, pair, item, pe.Error())
		if err := d.Control.DeactivateSession(ctx, pair.SessionID, "auth expired during send"); err != nil {
			d.Log.Error("session deactivation failed", slog.String("session_id", pair.SessionID), slog.Any("error", err))
		}

	case domain.PlatformBanned:
		// The pair set is about to be paused; park the item untouched.
		if err := d.Queue.Release(ctx, item.ID); err != nil {
			d.Log.Error("release failed", slog.String("item_id", item.ID), slog.Any("error", err))
		}
		if err := d.Control.EmergencyStop(ctx, pair.SessionID, pe.Error()); err != nil {
			d.Log.Error("emergency stop failed", slog.String("session_id", pair.SessionID), slog.Any("error", err))
		}

	default: // peer_invalid, content_rejected
		d.failItem(ctx, pair, item, pe.Error())
	}
}

func (d *Dispatcher) retry(ctx context.Context, item domain.QueueItem, reason string, at time.Time, countAttempt bool) {
	if err := d.Queue.Retry(ctx, item.ID, reason, at, countAttempt); err != nil {
		d.Log.Error("retry failed", slog.String("item_id", item.ID), slog.Any("error", err))
	}
}

func (d *Dispatcher) failItem(ctx context.Context, pair domain.Pair, item domain.QueueItem, reason string) {
	now := d.now()
	if err := d.Queue.Fail(ctx, item.ID, reason, now); err != nil {
		d.Log.Error("fail transition failed", slog.String("item_id", item.ID), slog.Any("error", err))
		return
	}
	if err := d.Pairs.IncrStats(ctx, pair.ID, domain.StatsDelta{Failed: 1}); err != nil {
		d.Log.Error("stats update failed", slog.String("pair_id", pair.ID), slog.Any("error", err))
	}
	d.Audit.Record(ctx, domain.ActivityEntry{
		UserID:    pair.UserID,
		PairID:    &pair.ID,
		SessionID: &pair.SessionID,
		Kind:      domain.ActivityMessageFailed,
		Message:   "message delivery failed",
		Metadata: map[string]any{
			"source_message_id": item.SourceMessageID,
			"error":             reason,
			"attempts":          item.Attempts,
		},
	})
}

func (d *Dispatcher) pairLock(pairID string) *sync.Mutex {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()
	if l, ok := d.pairLocks[pairID]; ok {
		return l
	}
	l := &sync.Mutex{}
	d.pairLocks[pairID] = l
	return l
}

// Drain waits for in-flight sends up to the budget, then returns leftover
// processing items to pending.
func (d *Dispatcher) Drain(ctx context.Context, budget time.Duration) {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(budget):
		d.Log.Warn("drain budget exhausted with sends in flight")
	}
	released, err := d.Queue.ReleaseAllProcessing(context.WithoutCancel(ctx))
	if err != nil {
		d.Log.Error("processing rollback failed", slog.Any("error", err))
		return
	}
	if released > 0 {
		d.Log.Info("released in-flight items back to pending", slog.Int64("count", released))
	}
}
