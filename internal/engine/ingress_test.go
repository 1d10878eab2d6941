package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/domain/mocks"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
)

type planTable map[domain.Plan]domain.PlanLimits

func (p planTable) Limits(plan domain.Plan) domain.PlanLimits { return p[plan] }

type ingressFixture struct {
	r        *Ingress
	pairs    *mocks.MockPairRepository
	users    *mocks.MockUserRepository
	queue    *mocks.MockQueueRepository
	filters  *mocks.MockFilterRepository
	daily    *mocks.MockDailyCounter
	activity *mocks.MockActivityRepository
	now      time.Time
}

func newIngressFixture(t *testing.T, plans PlanResolver) *ingressFixture {
	t.Helper()
	fx := &ingressFixture{
		pairs:    &mocks.MockPairRepository{},
		users:    &mocks.MockUserRepository{},
		queue:    &mocks.MockQueueRepository{},
		filters:  &mocks.MockFilterRepository{},
		daily:    &mocks.MockDailyCounter{},
		activity: &mocks.MockActivityRepository{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.activity.On("Append", mock.Anything, mock.Anything).Return(nil).Maybe()
	if plans == nil {
		plans = planTable{domain.PlanFree: {MaxPairs: 3}}
	}
	fx.r = NewIngress(fx.pairs, fx.users, fx.queue, fx.daily, plans,
		NewFilterPipeline(fx.filters), audit.New(fx.activity, nil, nil), nil)
	fx.r.now = func() time.Time { return fx.now }
	return fx
}

func newEvent() domain.UpdateEvent {
	return domain.UpdateEvent{
		SessionID: "s1",
		Kind:      domain.EventNew,
		SourceRef: "src",
		MessageID: 42,
		Snapshot:  domain.MessageSnapshot{Text: "hello"},
	}
}

func TestIngress_HappyPath_EnqueuesImmediately(t *testing.T) {
	t.Parallel()
	fx := newIngressFixture(t, nil)
	pair := happyPair() // delay [0,0]

	fx.pairs.On("ListActiveBySource", mock.Anything, "s1", "src").Return([]domain.Pair{pair}, nil)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.filters.On("PhrasesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedPhrase{}, nil)

	var enqueued domain.QueueItem
	fx.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(it domain.QueueItem) bool {
		enqueued = it
		return it.PairID == "p1" && it.SourceMessageID == 42
	})).Return("item-1", nil)

	require.NoError(t, fx.r.HandleEvent(context.Background(), newEvent()))
	// delay_min = delay_max = 0 schedules for now.
	assert.Equal(t, fx.now, enqueued.ScheduledAt)
	assert.Equal(t, "dst", enqueued.DestinationRef)
	fx.queue.AssertExpectations(t)
}

func TestIngress_UniformDelayWithinWindow(t *testing.T) {
	t.Parallel()
	fx := newIngressFixture(t, nil)
	pair := happyPair()
	pair.DelayMin = 0
	pair.DelayMax = 3600 * time.Second

	fx.pairs.On("ListActiveBySource", mock.Anything, "s1", "src").Return([]domain.Pair{pair}, nil)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.filters.On("PhrasesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedPhrase{}, nil)

	var enqueued domain.QueueItem
	fx.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(it domain.QueueItem) bool {
		enqueued = it
		return true
	})).Return("item-1", nil)

	require.NoError(t, fx.r.HandleEvent(context.Background(), newEvent()))
	delay := enqueued.ScheduledAt.Sub(fx.now)
	assert.GreaterOrEqual(t, delay, time.Duration(0))
	assert.LessOrEqual(t, delay, 3600*time.Second)
}

func TestIngress_PhraseBlockCountsFiltered(t *testing.T) {
	t.Parallel()
	fx := newIngressFixture(t, nil)
	pair := happyPair()

	fx.pairs.On("ListActiveBySource", mock.Anything, "s1", "src").Return([]domain.Pair{pair}, nil)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	pairID := "p1"
	fx.filters.On("PhrasesFor", mock.Anything, "u1", "p1").
		Return([]domain.BlockedPhrase{{PairID: &pairID, UserID: "u1", Text: "promo", Active: true}}, nil)
	fx.pairs.On("IncrStats", mock.Anything, "p1", domain.StatsDelta{Filtered: 1}).Return(nil)

	ev := newEvent()
	ev.Snapshot.Text = "PROMO code"
	require.NoError(t, fx.r.HandleEvent(context.Background(), ev))

	// No queue item was created; the drop counted as filtered.
	fx.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	fx.pairs.AssertExpectations(t)
}

func TestIngress_NoSubscribersIsCheap(t *testing.T) {
	t.Parallel()
	fx := newIngressFixture(t, nil)
	fx.pairs.On("ListActiveBySource", mock.Anything, "s1", "src").Return([]domain.Pair{}, nil)
	require.NoError(t, fx.r.HandleEvent(context.Background(), newEvent()))
	fx.users.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestIngress_DailyCapDropsWhenExceeded(t *testing.T) {
	t.Parallel()
	plans := planTable{domain.PlanFree: {MaxPairs: 3, MsgsPerDay: 10}}
	fx := newIngressFixture(t, plans)
	pair := happyPair()

	fx.pairs.On("ListActiveBySource", mock.Anything, "s1", "src").Return([]domain.Pair{pair}, nil)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.filters.On("PhrasesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedPhrase{}, nil)
	fx.daily.On("Incr", mock.Anything, "u1").Return(int64(11), nil)
	fx.pairs.On("IncrStats", mock.Anything, "p1", domain.StatsDelta{Filtered: 1}).Return(nil)

	require.NoError(t, fx.r.HandleEvent(context.Background(), newEvent()))
	fx.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestIngress_ChainLoopGuardRejectsEcho(t *testing.T) {
	t.Parallel()
	fx := newIngressFixture(t, nil)
	pair := happyPair()

	fx.pairs.On("ListActiveBySource", mock.Anything, "s1", "src").Return([]domain.Pair{pair}, nil)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.filters.On("PhrasesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedPhrase{}, nil)
	fx.queue.On("Enqueue", mock.Anything, mock.Anything).Return("item-1", nil).Once()

	// A real observation passes and is remembered.
	require.NoError(t, fx.r.HandleEvent(context.Background(), newEvent()))

	// The synthetic chain echo of the same tuple is rejected.
	require.NoError(t, fx.r.EmitChain(context.Background(), "s1", "src", 42, domain.MessageSnapshot{Text: "hello"}))
	fx.queue.AssertNumberOfCalls(t, "Enqueue", 1)
}

func TestIngress_ChainEmissionOnFreshTupleFlows(t *testing.T) {
	t.Parallel()
	fx := newIngressFixture(t, nil)
	pair := happyPair()
	pair.SourceRef = "dst-chan"

	fx.pairs.On("ListActiveBySource", mock.Anything, "s1", "dst-chan").Return([]domain.Pair{pair}, nil)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.filters.On("PhrasesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedPhrase{}, nil)
	fx.queue.On("Enqueue", mock.Anything, mock.Anything).Return("item-2", nil).Once()

	require.NoError(t, fx.r.EmitChain(context.Background(), "s1", "dst-chan", 99, domain.MessageSnapshot{Text: "chained"}))
	fx.queue.AssertExpectations(t)
}

func TestIngress_DailyCounterOutageDoesNotBlock(t *testing.T) {
	t.Parallel()
	plans := planTable{domain.PlanFree: {MaxPairs: 3, MsgsPerDay: 10}}
	fx := newIngressFixture(t, plans)
	pair := happyPair()

	fx.pairs.On("ListActiveBySource", mock.Anything, "s1", "src").Return([]domain.Pair{pair}, nil)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.filters.On("PhrasesFor", mock.Anything, "u1", "p1").Return([]domain.BlockedPhrase{}, nil)
	fx.daily.On("Incr", mock.Anything, "u1").Return(int64(0), domain.ErrUnavailable)
	fx.queue.On("Enqueue", mock.Anything, mock.Anything).Return("item-1", nil)

	require.NoError(t, fx.r.HandleEvent(context.Background(), newEvent()))
	fx.queue.AssertExpectations(t)
}
