package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sunil55999/autoforwardx/internal/adapter/observability"
	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
)

// Chain loop guard dimensions (total tuples across all sessions, memory window).
const (
	loopGuardSize = 1024
	loopGuardTTL  = 60 * time.Second
)

// PlanResolver answers plan-limit lookups; config.PlanTable satisfies it.
type PlanResolver interface {
	Limits(p domain.Plan) domain.PlanLimits
}

// Ingress resolves inbound updates to subscribed pairs, runs the filter
// pipeline, and enqueues surviving work with the pair's randomized delay.
type Ingress struct {
	Pairs  domain.PairRepository
	Users  domain.UserRepository
	Queue  domain.QueueRepository
	Daily  domain.DailyCounter
	Plans  PlanResolver
	Filter *FilterPipeline
	Audit  *audit.Logger
	Log    *slog.Logger

	guard *loopGuard
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewIngress constructs the router.
func NewIngress(pairs domain.PairRepository, users domain.UserRepository, queue domain.QueueRepository,
	daily domain.DailyCounter, plans PlanResolver, filter *FilterPipeline, aud *audit.Logger, log *slog.Logger) *Ingress {
	if log == nil {
		log = slog.Default()
	}
	return &Ingress{
		Pairs:  pairs,
		Users:  users,
		Queue:  queue,
		Daily:  daily,
		Plans:  plans,
		Filter: filter,
		Audit:  aud,
		Log:    log,
		guard:  newLoopGuard(loopGuardSize, loopGuardTTL),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// HandleEvent processes one inbound update. Filter drops count toward the
// pair's filtered counter, never failed.
func (r *Ingress) HandleEvent(ctx context.Context, ev domain.UpdateEvent) error {
	if ev.Synthetic && r.guard.Seen(ev.SessionID, ev.SourceRef, ev.MessageID) {
		observability.ItemsFilteredTotal.WithLabelValues(DropChainLoop).Inc()
		r.Log.Debug("chain re-emission rejected",
			slog.String("session_id", ev.SessionID),
			slog.String("source_ref", ev.SourceRef),
			slog.Int64("message_id", ev.MessageID))
		return nil
	}

	pairs, err := r.Pairs.ListActiveBySource(ctx, ev.SessionID, ev.SourceRef)
	if err != nil {
		return fmt.Errorf("op=ingress.resolve: %w", err)
	}
	if len(pairs) == 0 {
		return nil
	}
	r.guard.Remember(ev.SessionID, ev.SourceRef, ev.MessageID)

	user, err := r.Users.Get(ctx, pairs[0].UserID)
	if err != nil {
		return fmt.Errorf("op=ingress.user: %w", err)
	}
	limits := r.Plans.Limits(user.Plan)

	for _, pair := range pairs {
		if err := r.routeToPair(ctx, pair, ev, limits); err != nil {
			r.Log.Error("ingress routing failed",
				slog.String("pair_id", pair.ID),
				slog.Any("error", err))
		}
	}
	return nil
}

func (r *Ingress) routeToPair(ctx context.Context, pair domain.Pair, ev domain.UpdateEvent, limits domain.PlanLimits) error {
	verdict, err := r.Filter.Evaluate(ctx, pair, ev, limits.AdvancedFiltering)
	if err != nil {
		return err
	}
	if !verdict.Allowed {
		r.dropEvent(ctx, pair, verdict.Reason)
		return nil
	}

	if limits.MsgsPerDay > 0 && r.Daily != nil {
		n, err := r.Daily.Incr(ctx, pair.UserID)
		if err != nil {
			// The soft cap is advisory; a counter outage never stops forwarding.
			r.Log.Warn("daily counter unavailable", slog.Any("error", err))
		} else if n > int64(limits.MsgsPerDay) {
			r.dropEvent(ctx, pair, DropDailyCap)
			return nil
		}
	}

	delay := r.pickDelay(pair.DelayMin, pair.DelayMax)
	item := domain.QueueItem{
		PairID:          pair.ID,
		Kind:            ev.Kind,
		SourceMessageID: ev.MessageID,
		SourceRef:       ev.SourceRef,
		DestinationRef:  pair.DestinationRef,
		Payload:         verdict.Snapshot,
		ScheduledAt:     r.now().Add(delay),
	}
	if _, err := r.Queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("op=ingress.enqueue: %w", err)
	}
	observability.ItemsEnqueuedTotal.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

func (r *Ingress) dropEvent(ctx context.Context, pair domain.Pair, reason string) {
	observability.ItemsFilteredTotal.WithLabelValues(reason).Inc()
	r.Log.Debug("event filtered",
		slog.String("pair_id", pair.ID),
		slog.String("reason", reason))
	if err := r.Pairs.IncrStats(ctx, pair.ID, domain.StatsDelta{Filtered: 1}); err != nil {
		r.Log.Error("filtered counter update failed", slog.String("pair_id", pair.ID), slog.Any("error", err))
	}
}

// EmitChain republishes a delivered message as if newly observed on the
// destination, for pairs with chain forwarding. The loop guard rejects
// tuples echoing back within its window.
func (r *Ingress) EmitChain(ctx context.Context, sessionID, destRef string, messageID int64, snap domain.MessageSnapshot) error {
	return r.HandleEvent(ctx, domain.UpdateEvent{
		SessionID: sessionID,
		Kind:      domain.EventNew,
		SourceRef: destRef,
		MessageID: messageID,
		Snapshot:  snap,
		Synthetic: true,
	})
}

// pickDelay draws uniformly from [min, max].
func (r *Ingress) pickDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + time.Duration(r.rng.Int63n(int64(max-min)+1))
}
