package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/domain/mocks"
	"github.com/sunil55999/autoforwardx/internal/service/audit"
)

type fakeControl struct {
	deactivated []string
	stopped     []string
}

func (f *fakeControl) DeactivateSession(_ context.Context, sessionID, _ string) error {
	f.deactivated = append(f.deactivated, sessionID)
	return nil
}

func (f *fakeControl) EmergencyStop(_ context.Context, sessionID, _ string) error {
	f.stopped = append(f.stopped, sessionID)
	return nil
}

type dispatcherFixture struct {
	d        *Dispatcher
	queue    *mocks.MockQueueRepository
	pairs    *mocks.MockPairRepository
	client   *mocks.MockPlatformClient
	control  *fakeControl
	activity *mocks.MockActivityRepository
	antiban  *AntiBan
	now      time.Time
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	fx := &dispatcherFixture{
		queue:    &mocks.MockQueueRepository{},
		pairs:    &mocks.MockPairRepository{},
		client:   &mocks.MockPlatformClient{},
		control:  &fakeControl{},
		activity: &mocks.MockActivityRepository{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.activity.On("Append", mock.Anything, mock.Anything).Return(nil).Maybe()
	aud := audit.New(fx.activity, nil, nil)
	fx.antiban = NewAntiBan(AntiBanConfig{PerMinute: 20, PerHour: 300, WarnAt: 0.80, CritAt: 0.95}, aud)
	fx.antiban.now = func() time.Time { return fx.now }

	// The chain router is unused unless a test wires pair.Chain.
	users := &mocks.MockUserRepository{}
	filters := &mocks.MockFilterRepository{}
	ingress := NewIngress(fx.pairs, users, fx.queue, nil, staticPlans{}, NewFilterPipeline(filters), aud, nil)

	fx.d = NewDispatcher(DispatcherConfig{Workers: 1, ClaimBatch: 32, ClaimInterval: time.Second},
		fx.queue, fx.pairs, fx.client, fx.antiban, fx.control, ingress, aud, nil)
	fx.d.now = func() time.Time { return fx.now }
	return fx
}

type staticPlans struct{}

func (staticPlans) Limits(domain.Plan) domain.PlanLimits {
	return domain.PlanLimits{MaxSessions: 1, MaxPairs: 3}
}

func happyPair() domain.Pair {
	return domain.Pair{
		ID:             "p1",
		UserID:         "u1",
		SessionID:      "s1",
		SourceRef:      "src",
		DestinationRef: "dst",
		State:          domain.PairActive,
	}
}

func itemFixture() domain.QueueItem {
	return domain.QueueItem{
		ID:              "it1",
		PairID:          "p1",
		Kind:            domain.EventNew,
		SourceMessageID: 42,
		SourceRef:       "src",
		DestinationRef:  "dst",
		Status:          domain.ItemProcessing,
	}
}

func TestDispatcher_HappyPath(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	item := itemFixture()

	fx.queue.On("ClaimDue", mock.Anything, fx.now, 32).Return([]domain.QueueItem{item}, nil).Once()
	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.client.On("Forward", mock.Anything, "s1", "src", "dst", int64(42), false).Return(nil)
	fx.queue.On("Complete", mock.Anything, "it1", fx.now).Return(nil)
	fx.pairs.On("IncrStats", mock.Anything, "p1", mock.MatchedBy(func(d domain.StatsDelta) bool {
		return d.Successful == 1 && d.Forwarded == 1 && d.LastAt != nil
	})).Return(nil)

	n, err := fx.d.RunBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	fx.queue.AssertExpectations(t)
	fx.pairs.AssertExpectations(t)
	fx.client.AssertExpectations(t)
}

func TestDispatcher_CopyMode(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	pair := happyPair()
	pair.CopyMode = true
	pair.Silent = true
	item := itemFixture()
	item.Payload = domain.MessageSnapshot{Text: "hi"}

	fx.pairs.On("Get", mock.Anything, "p1").Return(pair, nil)
	fx.client.On("Copy", mock.Anything, "s1", "dst", item.Payload, true).Return(nil)
	fx.queue.On("Complete", mock.Anything, "it1", fx.now).Return(nil)
	fx.pairs.On("IncrStats", mock.Anything, "p1", mock.Anything).Return(nil)

	fx.d.Process(context.Background(), item)
	fx.client.AssertExpectations(t)
}

func TestDispatcher_RateLimitedRetry(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	item := itemFixture()

	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.client.On("Forward", mock.Anything, "s1", "src", "dst", int64(42), false).
		Return(domain.NewRateLimitError(30*time.Second, errors.New("FLOOD_WAIT_30")))
	// Reschedule at now+wait without consuming an attempt.
	fx.queue.On("Retry", mock.Anything, "it1", mock.Anything, fx.now.Add(30*time.Second), false).Return(nil)

	fx.d.Process(context.Background(), item)
	fx.queue.AssertExpectations(t)

	// The controller felt the rate limit: multiplier is at least warning.
	assert.GreaterOrEqual(t, fx.antiban.Multiplier("s1"), 2.0)
	assert.Equal(t, domain.RateWarning, fx.antiban.Level("s1"))
}

func TestDispatcher_TransientRetriesThenFails(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	ctx := context.Background()

	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.client.On("Forward", mock.Anything, "s1", "src", "dst", int64(42), false).
		Return(domain.NewPlatformError(domain.PlatformTransient, errors.New("connection reset")))

	// First failure: attempts 0 -> backoff 2^1*60s, attempt counted.
	first := itemFixture()
	fx.queue.On("Retry", mock.Anything, "it1", mock.Anything, fx.now.Add(120*time.Second), true).Return(nil).Once()
	fx.d.Process(ctx, first)

	// Second failure: attempts 1 -> backoff 2^2*60s.
	second := itemFixture()
	second.Attempts = 1
	fx.queue.On("Retry", mock.Anything, "it1", mock.Anything, fx.now.Add(240*time.Second), true).Return(nil).Once()
	fx.d.Process(ctx, second)

	// Third failure reaches MaxAttempts: terminal failed plus pair counter.
	third := itemFixture()
	third.Attempts = 2
	fx.queue.On("Fail", mock.Anything, "it1", mock.Anything, fx.now).Return(nil).Once()
	fx.pairs.On("IncrStats", mock.Anything, "p1", mock.MatchedBy(func(d domain.StatsDelta) bool {
		return d.Failed == 1
	})).Return(nil).Once()
	fx.d.Process(ctx, third)

	fx.queue.AssertExpectations(t)
	fx.pairs.AssertExpectations(t)
}

func TestDispatcher_AuthExpiredDeactivatesSession(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	item := itemFixture()

	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.client.On("Forward", mock.Anything, "s1", "src", "dst", int64(42), false).
		Return(domain.NewPlatformError(domain.PlatformAuthExpired, errors.New("AUTH_KEY_UNREGISTERED")))
	fx.queue.On("Fail", mock.Anything, "it1", mock.Anything, fx.now).Return(nil)
	fx.pairs.On("IncrStats", mock.Anything, "p1", mock.Anything).Return(nil)

	fx.d.Process(context.Background(), item)
	assert.Equal(t, []string{"s1"}, fx.control.deactivated)
}

func TestDispatcher_TerminalErrorsDoNotRetry(t *testing.T) {
	t.Parallel()
	for _, kind := range []domain.PlatformErrorKind{domain.PlatformPeerInvalid, domain.PlatformContentRejected} {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()
			fx := newDispatcherFixture(t)
			item := itemFixture()
			fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
			fx.client.On("Forward", mock.Anything, "s1", "src", "dst", int64(42), false).
				Return(domain.NewPlatformError(kind, errors.New("terminal")))
			fx.queue.On("Fail", mock.Anything, "it1", mock.Anything, fx.now).Return(nil)
			fx.pairs.On("IncrStats", mock.Anything, "p1", mock.Anything).Return(nil)

			fx.d.Process(context.Background(), item)
			fx.queue.AssertExpectations(t)
			fx.queue.AssertNotCalled(t, "Retry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDispatcher_BanIndicatorTriggersEmergencyStop(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	item := itemFixture()

	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.client.On("Forward", mock.Anything, "s1", "src", "dst", int64(42), false).
		Return(domain.NewPlatformError(domain.PlatformBanned, errors.New("PEER_FLOOD")))
	fx.queue.On("Release", mock.Anything, "it1").Return(nil)

	fx.d.Process(context.Background(), item)
	assert.Equal(t, []string{"s1"}, fx.control.stopped)
}

func TestDispatcher_HaltedSessionParksItems(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	fx.antiban.MarkBanned("s1")
	item := itemFixture()

	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.queue.On("Retry", mock.Anything, "it1", mock.Anything, fx.now.Add(haltRetryDelay), false).Return(nil)

	fx.d.Process(context.Background(), item)
	fx.queue.AssertExpectations(t)
	fx.client.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_BudgetExhaustionReschedulesToWindowReset(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		fx.antiban.RecordSend(ctx, "u1", "s1")
	}
	_, resetAt := fx.antiban.BudgetExceeded("s1")
	item := itemFixture()

	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.queue.On("Retry", mock.Anything, "it1", mock.Anything, resetAt, false).Return(nil)

	fx.d.Process(ctx, item)
	fx.queue.AssertExpectations(t)
	fx.client.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_DeletedPairMeansNothingToSettle(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	fx.pairs.On("Get", mock.Anything, "p1").Return(domain.Pair{}, domain.ErrNotFound)
	fx.d.Process(context.Background(), itemFixture())
	fx.queue.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	fx.client.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_DeleteItemsSettleWithoutSend(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	item := itemFixture()
	item.Kind = domain.EventDelete

	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.queue.On("Complete", mock.Anything, "it1", fx.now).Return(nil)
	fx.pairs.On("IncrStats", mock.Anything, "p1", mock.MatchedBy(func(d domain.StatsDelta) bool {
		return d.Successful == 1 && d.Forwarded == 0
	})).Return(nil)

	fx.d.Process(context.Background(), item)
	fx.client.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_PauseStopsClaims(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	fx.d.Pause()
	assert.True(t, fx.d.Paused())
	fx.d.Resume()
	assert.False(t, fx.d.Paused())
}

func TestDispatcher_ThrottledSessionIsPaced(t *testing.T) {
	t.Parallel()
	fx := newDispatcherFixture(t)
	ctx := context.Background()
	// Push the session to warning and send once so the pacing gap is armed.
	for i := 0; i < 16; i++ {
		fx.antiban.RecordSend(ctx, "u1", "s1")
	}
	item := itemFixture()
	fx.pairs.On("Get", mock.Anything, "p1").Return(happyPair(), nil)
	fx.queue.On("Retry", mock.Anything, "it1", "throttled", mock.Anything, false).Return(nil)

	fx.d.Process(ctx, item)
	fx.queue.AssertExpectations(t)
	fx.client.AssertNotCalled(t, "Forward", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
