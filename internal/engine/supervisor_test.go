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

type supervisorFixture struct {
	s        *Supervisor
	sessions *mocks.MockSessionRepository
	pairs    *mocks.MockPairRepository
	client   *mocks.MockPlatformClient
	activity *mocks.MockActivityRepository
	now      time.Time
}

func newSupervisorFixture(t *testing.T) *supervisorFixture {
	t.Helper()
	fx := &supervisorFixture{
		sessions: &mocks.MockSessionRepository{},
		pairs:    &mocks.MockPairRepository{},
		client:   &mocks.MockPlatformClient{},
		activity: &mocks.MockActivityRepository{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.activity.On("Append", mock.Anything, mock.Anything).Return(nil).Maybe()
	aud := audit.New(fx.activity, nil, nil)
	antiban := NewAntiBan(AntiBanConfig{PerMinute: 20, PerHour: 300, WarnAt: 0.80, CritAt: 0.95}, aud)
	users := &mocks.MockUserRepository{}
	queue := &mocks.MockQueueRepository{}
	filters := &mocks.MockFilterRepository{}
	ingress := NewIngress(fx.pairs, users, queue, nil, planTable{}, NewFilterPipeline(filters), aud, nil)
	fx.s = NewSupervisor(fx.sessions, fx.pairs, fx.client, NewHealthRegistry(), antiban, ingress, aud, time.Minute, nil)
	fx.s.now = func() time.Time { return fx.now }
	return fx
}

func usableSession() domain.Session {
	return domain.Session{ID: "s1", UserID: "u1", Phone: "+15550001", Credentials: []byte("blob"), Active: true}
}

func openFixtureSession(t *testing.T, fx *supervisorFixture) chan domain.UpdateEvent {
	t.Helper()
	ch := make(chan domain.UpdateEvent)
	fx.client.On("Open", mock.Anything, mock.MatchedBy(func(s domain.Session) bool { return s.ID == "s1" })).
		Return((<-chan domain.UpdateEvent)(ch), nil).Once()
	fx.s.EnsureSession(context.Background(), usableSession())
	return ch
}

func TestSupervisor_HealthyPingTouchesStore(t *testing.T) {
	t.Parallel()
	fx := newSupervisorFixture(t)
	openFixtureSession(t, fx)

	fx.client.On("HealthPing", mock.Anything, "s1").Return(nil).Once()
	fx.sessions.On("TouchHealth", mock.Anything, "s1", fx.now).Return(nil).Once()

	fx.s.PingOnce(context.Background(), "s1")
	h, ok := fx.s.Health.Snapshot("s1")
	require.True(t, ok)
	assert.True(t, h.Healthy)
	assert.Zero(t, h.ConsecutiveFailures)
	fx.sessions.AssertExpectations(t)
}

func TestSupervisor_FailureSchedulesBackoff(t *testing.T) {
	t.Parallel()
	fx := newSupervisorFixture(t)
	openFixtureSession(t, fx)

	fx.client.On("HealthPing", mock.Anything, "s1").
		Return(domain.NewPlatformError(domain.PlatformTransient, errors.New("i/o timeout"))).Once()

	fx.s.PingOnce(context.Background(), "s1")

	h, _ := fx.s.Health.Snapshot("s1")
	assert.False(t, h.Healthy)
	assert.Equal(t, 1, h.ConsecutiveFailures)

	// First retry lands 30s out.
	fx.s.mu.Lock()
	wait := fx.s.reconnectAt["s1"]
	fx.s.mu.Unlock()
	assert.Equal(t, fx.now.Add(30*time.Second), wait)
}

func TestSupervisor_DeactivatesAtMaxFailures(t *testing.T) {
	t.Parallel()
	fx := newSupervisorFixture(t)
	openFixtureSession(t, fx)

	fx.client.On("HealthPing", mock.Anything, "s1").
		Return(domain.NewPlatformError(domain.PlatformTransient, errors.New("i/o timeout")))
	fx.client.On("Close", mock.Anything, "s1").Return(nil)
	fx.sessions.On("SetActive", mock.Anything, "s1", false).Return(nil).Once()
	fx.pairs.On("PauseAllForSession", mock.Anything, "s1").Return(int64(2), nil).Once()

	ctx := context.Background()
	// Two failures accumulate the streak; the third deactivates.
	fx.s.PingOnce(ctx, "s1")
	fx.s.PingOnce(ctx, "s1")
	fx.sessions.AssertNotCalled(t, "SetActive", mock.Anything, mock.Anything, mock.Anything)
	fx.s.PingOnce(ctx, "s1")

	fx.sessions.AssertExpectations(t)
	fx.pairs.AssertExpectations(t)
}

func TestSupervisor_AuthExpiredDeactivatesImmediately(t *testing.T) {
	t.Parallel()
	fx := newSupervisorFixture(t)
	openFixtureSession(t, fx)

	fx.client.On("HealthPing", mock.Anything, "s1").
		Return(domain.NewPlatformError(domain.PlatformAuthExpired, errors.New("AUTH_KEY_UNREGISTERED"))).Once()
	fx.client.On("Close", mock.Anything, "s1").Return(nil)
	fx.sessions.On("SetActive", mock.Anything, "s1", false).Return(nil).Once()
	fx.pairs.On("PauseAllForSession", mock.Anything, "s1").Return(int64(1), nil).Once()

	fx.s.PingOnce(context.Background(), "s1")
	fx.sessions.AssertExpectations(t)
	fx.pairs.AssertExpectations(t)
}

func TestSupervisor_DeactivationRecordsActivity(t *testing.T) {
	t.Parallel()
	fx := newSupervisorFixture(t)
	openFixtureSession(t, fx)

	var kinds []string
	fx.activity.ExpectedCalls = nil
	fx.activity.On("Append", mock.Anything, mock.MatchedBy(func(e domain.ActivityEntry) bool {
		kinds = append(kinds, e.Kind)
		return true
	})).Return(nil)
	fx.client.On("Close", mock.Anything, "s1").Return(nil)
	fx.sessions.On("SetActive", mock.Anything, "s1", false).Return(nil)
	fx.pairs.On("PauseAllForSession", mock.Anything, "s1").Return(int64(1), nil)

	require.NoError(t, fx.s.DeactivateSession(context.Background(), "s1", "authentication expired"))
	assert.Contains(t, kinds, domain.ActivitySessionDeactivated)
}

func TestSupervisor_EmergencyStopPausesAndPins(t *testing.T) {
	t.Parallel()
	fx := newSupervisorFixture(t)
	fx.pairs.On("PauseAllForSession", mock.Anything, "s1").Return(int64(3), nil)

	require.NoError(t, fx.s.EmergencyStop(context.Background(), "s1", "PEER_FLOOD"))

	assert.Equal(t, domain.RateBanned, fx.s.AntiBan.Level("s1"))
	h, ok := fx.s.Health.Snapshot("s1")
	require.True(t, ok)
	assert.False(t, h.Healthy)
	// The session row stays active; only the anti-ban level halts sends.
	fx.sessions.AssertNotCalled(t, "SetActive", mock.Anything, mock.Anything, mock.Anything)
}

func TestSupervisor_TriggerHealthRejectsUnusable(t *testing.T) {
	t.Parallel()
	fx := newSupervisorFixture(t)
	fx.sessions.On("Get", mock.Anything, "s1").Return(domain.Session{ID: "s1", Active: false}, nil)
	err := fx.s.TriggerHealth(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSupervisor_StartSeedsHealth(t *testing.T) {
	t.Parallel()
	fx := newSupervisorFixture(t)
	sess := usableSession()
	fx.sessions.On("ListUsable", mock.Anything).Return([]domain.Session{sess}, nil)
	ch := make(chan domain.UpdateEvent)
	fx.client.On("Open", mock.Anything, mock.Anything).Return((<-chan domain.UpdateEvent)(ch), nil)

	require.NoError(t, fx.s.Start(context.Background()))
	h, ok := fx.s.Health.Snapshot("s1")
	require.True(t, ok)
	assert.True(t, h.Healthy)
}
