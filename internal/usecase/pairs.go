// Package usecase contains the control-plane business logic.
package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/sunil55999/autoforwardx/internal/domain"
	obsctx "github.com/sunil55999/autoforwardx/internal/observability"
)

// PlanResolver answers plan-limit lookups; config.PlanTable satisfies it.
type PlanResolver interface {
	Limits(p domain.Plan) domain.PlanLimits
}

// PairOptions are the mutable settings accepted by create and update.
type PairOptions struct {
	SourceRef      string
	DestinationRef string
	DelayMin       time.Duration
	DelayMax       time.Duration
	CopyMode       bool
	Silent         bool
	ForwardEdits   bool
	ForwardDeletes bool
	TypeFilter     domain.MessageTypeFilter
	Chain          bool
	Serialized     bool
	Substitutions  map[string]string
	Watermark      string
}

// PairService implements the pair lifecycle operations of the control plane.
type PairService struct {
	Pairs    domain.PairRepository
	Sessions domain.SessionRepository
	Users    domain.UserRepository
	Queue    domain.QueueRepository
	Plans    PlanResolver
}

// NewPairService constructs a PairService.
func NewPairService(pairs domain.PairRepository, sessions domain.SessionRepository, users domain.UserRepository,
	queue domain.QueueRepository, plans PlanResolver) PairService {
	return PairService{Pairs: pairs, Sessions: sessions, Users: users, Queue: queue, Plans: plans}
}

// Create validates plan limits and session ownership, then persists the pair.
func (s PairService) Create(ctx domain.Context, userID, sessionID string, opts PairOptions) (domain.Pair, error) {
	tr := otel.Tracer("usecase.pairs")
	ctx, span := tr.Start(ctx, "PairService.Create")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)
	if opts.SourceRef == "" || opts.DestinationRef == "" {
		return domain.Pair{}, fmt.Errorf("%w: source and destination required", domain.ErrInvalidArgument)
	}
	pair := domain.Pair{
		UserID:         userID,
		SessionID:      sessionID,
		SourceRef:      opts.SourceRef,
		DestinationRef: opts.DestinationRef,
		State:          domain.PairActive,
		DelayMin:       opts.DelayMin,
		DelayMax:       opts.DelayMax,
		CopyMode:       opts.CopyMode,
		Silent:         opts.Silent,
		ForwardEdits:   opts.ForwardEdits,
		ForwardDeletes: opts.ForwardDeletes,
		TypeFilter:     opts.TypeFilter,
		Chain:          opts.Chain,
		Serialized:     opts.Serialized,
		Substitutions:  opts.Substitutions,
		Watermark:      opts.Watermark,
	}
	if err := pair.ValidateDelays(); err != nil {
		return domain.Pair{}, fmt.Errorf("%w: delay window invalid", domain.ErrInvalidArgument)
	}

	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return domain.Pair{}, err
	}
	limits := s.Plans.Limits(user.Plan)
	count, err := s.Pairs.CountByUser(ctx, userID)
	if err != nil {
		return domain.Pair{}, err
	}
	if count >= limits.MaxPairs {
		return domain.Pair{}, fmt.Errorf("op=pairs.create: %w", domain.ErrPlanLimitExceeded)
	}

	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil || sess.UserID != userID {
		return domain.Pair{}, fmt.Errorf("op=pairs.create: session: %w", domain.ErrNotFound)
	}

	created, err := s.Pairs.Create(ctx, pair)
	if err != nil {
		return domain.Pair{}, err
	}
	lg.Info("pair created",
		slog.String("pair_id", created.ID),
		slog.String("user_id", userID),
		slog.String("session_id", sessionID))
	return created, nil
}

// Get returns a pair after an ownership check.
func (s PairService) Get(ctx domain.Context, userID, pairID string) (domain.Pair, error) {
	return s.owned(ctx, userID, pairID)
}

// List returns the user's pairs.
func (s PairService) List(ctx domain.Context, userID string) ([]domain.Pair, error) {
	return s.Pairs.ListByUser(ctx, userID)
}

// FailedItems returns recent failed queue items for the pair detail view.
func (s PairService) FailedItems(ctx domain.Context, userID, pairID string, limit int) ([]domain.QueueItem, error) {
	if _, err := s.owned(ctx, userID, pairID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return s.Queue.ListFailedByPair(ctx, pairID, limit)
}

// Update replaces the pair's mutable options.
func (s PairService) Update(ctx domain.Context, userID, pairID string, opts PairOptions) (domain.Pair, error) {
	pair, err := s.owned(ctx, userID, pairID)
	if err != nil {
		return domain.Pair{}, err
	}
	pair.SourceRef = opts.SourceRef
	pair.DestinationRef = opts.DestinationRef
	pair.DelayMin = opts.DelayMin
	pair.DelayMax = opts.DelayMax
	pair.CopyMode = opts.CopyMode
	pair.Silent = opts.Silent
	pair.ForwardEdits = opts.ForwardEdits
	pair.ForwardDeletes = opts.ForwardDeletes
	pair.TypeFilter = opts.TypeFilter
	pair.Chain = opts.Chain
	pair.Serialized = opts.Serialized
	pair.Substitutions = opts.Substitutions
	pair.Watermark = opts.Watermark
	if pair.SourceRef == "" || pair.DestinationRef == "" {
		return domain.Pair{}, fmt.Errorf("%w: source and destination required", domain.ErrInvalidArgument)
	}
	if err := pair.ValidateDelays(); err != nil {
		return domain.Pair{}, fmt.Errorf("%w: delay window invalid", domain.ErrInvalidArgument)
	}
	return s.Pairs.Update(ctx, pair)
}

// Pause suspends an active pair.
func (s PairService) Pause(ctx domain.Context, userID, pairID string) (domain.Pair, error) {
	return s.transition(ctx, userID, pairID, domain.PairPaused)
}

// Resume reactivates a paused pair; the backing session must be active.
func (s PairService) Resume(ctx domain.Context, userID, pairID string) (domain.Pair, error) {
	pair, err := s.owned(ctx, userID, pairID)
	if err != nil {
		return domain.Pair{}, err
	}
	sess, err := s.Sessions.Get(ctx, pair.SessionID)
	if err != nil {
		return domain.Pair{}, err
	}
	if !sess.Active {
		return domain.Pair{}, fmt.Errorf("op=pairs.resume: session inactive: %w", domain.ErrInvalidArgument)
	}
	return s.transition(ctx, userID, pairID, domain.PairActive)
}

// Stop terminates the pair; stopped pairs never resume.
func (s PairService) Stop(ctx domain.Context, userID, pairID string) (domain.Pair, error) {
	return s.transition(ctx, userID, pairID, domain.PairStopped)
}

func (s PairService) transition(ctx domain.Context, userID, pairID string, target domain.PairState) (domain.Pair, error) {
	pair, err := s.owned(ctx, userID, pairID)
	if err != nil {
		return domain.Pair{}, err
	}
	if !validTransition(pair.State, target) {
		return domain.Pair{}, fmt.Errorf("op=pairs.transition: %s -> %s: %w", pair.State, target, domain.ErrInvalidArgument)
	}
	if err := s.Pairs.UpdateState(ctx, pairID, target); err != nil {
		return domain.Pair{}, err
	}
	pair.State = target
	return pair, nil
}

// validTransition encodes the pair state machine: active <-> paused, both may
// stop, error may resume, pause or stop. Stopped is terminal.
func validTransition(from, to domain.PairState) bool {
	switch from {
	case domain.PairActive:
		return to == domain.PairPaused || to == domain.PairStopped
	case domain.PairPaused:
		return to == domain.PairActive || to == domain.PairStopped
	case domain.PairError:
		return to == domain.PairPaused || to == domain.PairStopped || to == domain.PairActive
	default:
		return false
	}
}

// Delete removes the pair; its queued items are cleared in the same store
// transaction.
func (s PairService) Delete(ctx domain.Context, userID, pairID string) error {
	if _, err := s.owned(ctx, userID, pairID); err != nil {
		return err
	}
	return s.Pairs.Delete(ctx, pairID)
}

// BulkPause pauses many pairs and returns how many changed.
func (s PairService) BulkPause(ctx domain.Context, userID string, pairIDs []string) (int64, error) {
	ids, err := s.ownedIDs(ctx, userID, pairIDs)
	if err != nil {
		return 0, err
	}
	return s.Pairs.BulkUpdateState(ctx, ids, domain.PairPaused)
}

// BulkResume reactivates many pairs and returns how many changed.
func (s PairService) BulkResume(ctx domain.Context, userID string, pairIDs []string) (int64, error) {
	ids, err := s.ownedIDs(ctx, userID, pairIDs)
	if err != nil {
		return 0, err
	}
	return s.Pairs.BulkUpdateState(ctx, ids, domain.PairActive)
}

// BulkUpdate applies the options to many pairs.
func (s PairService) BulkUpdate(ctx domain.Context, userID string, pairIDs []string, opts PairOptions) (int, error) {
	updated := 0
	for _, id := range pairIDs {
		if _, err := s.Update(ctx, userID, id, opts); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (s PairService) owned(ctx domain.Context, userID, pairID string) (domain.Pair, error) {
	pair, err := s.Pairs.Get(ctx, pairID)
	if err != nil {
		return domain.Pair{}, err
	}
	if pair.UserID != userID {
		return domain.Pair{}, fmt.Errorf("op=pairs.owned: %w", domain.ErrNotFound)
	}
	return pair, nil
}

func (s PairService) ownedIDs(ctx domain.Context, userID string, pairIDs []string) ([]string, error) {
	out := make([]string, 0, len(pairIDs))
	for _, id := range pairIDs {
		if _, err := s.owned(ctx, userID, id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
