package httpserver_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	httpserver "github.com/sunil55999/autoforwardx/internal/adapter/httpserver"
	"github.com/sunil55999/autoforwardx/internal/app"
	"github.com/sunil55999/autoforwardx/internal/config"
	"github.com/sunil55999/autoforwardx/internal/domain"
	"github.com/sunil55999/autoforwardx/internal/domain/mocks"
	"github.com/sunil55999/autoforwardx/internal/usecase"
)

type planTable map[domain.Plan]domain.PlanLimits

func (p planTable) Limits(plan domain.Plan) domain.PlanLimits { return p[plan] }

type fixture struct {
	handler  http.Handler
	pairs    *mocks.MockPairRepository
	sessions *mocks.MockSessionRepository
	users    *mocks.MockUserRepository
	queue    *mocks.MockQueueRepository
	filters  *mocks.MockFilterRepository
	stats    *mocks.MockStatsRepository
	activity *mocks.MockActivityRepository
	rdb      *redis.Client
}

type nopControl struct{ paused bool }

func (c *nopControl) Pause()       { c.paused = true }
func (c *nopControl) Resume()      { c.paused = false }
func (c *nopControl) Paused() bool { return c.paused }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		pairs:    &mocks.MockPairRepository{},
		sessions: &mocks.MockSessionRepository{},
		users:    &mocks.MockUserRepository{},
		queue:    &mocks.MockQueueRepository{},
		filters:  &mocks.MockFilterRepository{},
		stats:    &mocks.MockStatsRepository{},
		activity: &mocks.MockActivityRepository{},
	}
	mr := miniredis.RunT(t)
	fx.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = fx.rdb.Close() })

	plans := planTable{domain.PlanFree: {MaxSessions: 1, MaxPairs: 3}}
	client := &mocks.MockPlatformClient{}
	srv := &httpserver.Server{
		Cfg:   config.Config{HTTPRateLimitPerMin: 1000},
		Pairs: usecase.NewPairService(fx.pairs, fx.sessions, fx.users, fx.queue, plans),
		Sessions: usecase.SessionService{
			Sessions: fx.sessions,
			Users:    fx.users,
			Client:   client,
			Plans:    plans,
		},
		Stats:   usecase.StatsService{Stats: fx.stats, Activity: fx.activity},
		Admin:   usecase.AdminService{StatsRepo: fx.stats, Queue: fx.queue, Control: &nopControl{}},
		Filters: fx.filters,
	}
	fx.handler = app.BuildRouter(srv.Cfg, srv, fx.rdb)
	return fx
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func asUser(extra ...string) map[string]string {
	h := map[string]string{"X-User-Id": "u1"}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

func TestRouter_RequiresIdentity(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	rec := doJSON(t, fx.handler, http.MethodGet, "/v1/pairs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePair_Success(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.pairs.On("CountByUser", mock.Anything, "u1").Return(0, nil)
	fx.sessions.On("Get", mock.Anything, "s1").Return(domain.Session{ID: "s1", UserID: "u1", Active: true}, nil)
	fx.pairs.On("Create", mock.Anything, mock.Anything).
		Return(domain.Pair{ID: "p1", UserID: "u1", SessionID: "s1", State: domain.PairActive, TypeFilter: domain.FilterAll}, nil)

	body := `{"session_id":"s1","source_ref":"channel:1:2","destination_ref":"channel:3:4","delay_min_s":0,"delay_max_s":60}`
	rec := doJSON(t, fx.handler, http.MethodPost, "/v1/pairs", body, asUser())
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"p1"`)
}

func TestCreatePair_PlanLimit(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.pairs.On("CountByUser", mock.Anything, "u1").Return(3, nil)

	body := `{"session_id":"s1","source_ref":"channel:1:2","destination_ref":"channel:3:4"}`
	rec := doJSON(t, fx.handler, http.MethodPost, "/v1/pairs", body, asUser())
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "PLAN_LIMIT_EXCEEDED")
}

func TestCreatePair_ValidationError(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	// Missing destination_ref.
	body := `{"session_id":"s1","source_ref":"channel:1:2"}`
	rec := doJSON(t, fx.handler, http.MethodPost, "/v1/pairs", body, asUser())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")
}

func TestPairLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	pair := domain.Pair{ID: "p1", UserID: "u1", SessionID: "s1", State: domain.PairActive}
	fx.pairs.On("Get", mock.Anything, "p1").Return(pair, nil)
	fx.pairs.On("UpdateState", mock.Anything, "p1", domain.PairPaused).Return(nil)

	rec := doJSON(t, fx.handler, http.MethodPost, "/v1/pairs/p1/pause", "", asUser())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"paused"`)
}

func TestDeletePair_NotOwned(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.pairs.On("Get", mock.Anything, "p1").Return(domain.Pair{ID: "p1", UserID: "u2"}, nil)
	rec := doJSON(t, fx.handler, http.MethodDelete, "/v1/pairs/p1", "", asUser())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBeginAuth_Endpoint(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.sessions.On("CountByUser", mock.Anything, "u1").Return(0, nil)

	// The platform client is a mock owned by the fixture's session service;
	// wire its expectation through a fresh fixture-level client is not
	// possible here, so this test exercises only the validation path.
	rec := doJSON(t, fx.handler, http.MethodPost, "/v1/sessions", `{"phone":"not-a-phone"}`, asUser())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpoints_RequireAdminFlag(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	rec := doJSON(t, fx.handler, http.MethodGet, "/admin/stats", "", asUser())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	fx.stats.On("Admin", mock.Anything).Return(domain.AdminStats{TotalPairs: 7}, nil)
	rec = doJSON(t, fx.handler, http.MethodGet, "/admin/stats", "", asUser("X-Admin", "true"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_pairs":7`)
}

func TestAdminClearFailed_IdempotentSecondCallClearsZero(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.queue.On("ClearFailed", mock.Anything).Return(int64(4), nil).Once()
	fx.queue.On("ClearFailed", mock.Anything).Return(int64(0), nil).Once()

	rec := doJSON(t, fx.handler, http.MethodPost, "/admin/queue/clear-failed", "", asUser("X-Admin", "true"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cleared":4`)

	rec = doJSON(t, fx.handler, http.MethodPost, "/admin/queue/clear-failed", "", asUser("X-Admin", "true"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cleared":0`)
}

func TestAdminQueuePauseResume(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.queue.On("StatsByStatus", mock.Anything).Return(map[string]int{"pending": 2}, nil)

	rec := doJSON(t, fx.handler, http.MethodPost, "/admin/queue/pause", "", asUser("X-Admin", "true"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, fx.handler, http.MethodGet, "/admin/queue", "", asUser("X-Admin", "true"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"paused":true`)

	rec = doJSON(t, fx.handler, http.MethodPost, "/admin/queue/resume", "", asUser("X-Admin", "true"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotency_ReplaysMutatingResponse(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.pairs.On("CountByUser", mock.Anything, "u1").Return(0, nil).Once()
	fx.sessions.On("Get", mock.Anything, "s1").Return(domain.Session{ID: "s1", UserID: "u1", Active: true}, nil).Once()
	fx.pairs.On("Create", mock.Anything, mock.Anything).
		Return(domain.Pair{ID: "p1", UserID: "u1", State: domain.PairActive}, nil).Once()

	body := `{"session_id":"s1","source_ref":"channel:1:2","destination_ref":"channel:3:4"}`
	hdr := asUser("X-Idempotency-Key", "req-123")

	rec := doJSON(t, fx.handler, http.MethodPost, "/v1/pairs", body, hdr)
	require.Equal(t, http.StatusCreated, rec.Code)

	// The second identical request replays without touching the repository.
	rec = doJSON(t, fx.handler, http.MethodPost, "/v1/pairs", body, hdr)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Idempotent-Replay"))
	fx.pairs.AssertNumberOfCalls(t, "Create", 1)
}

func TestIdempotency_InFlightClaimConflicts(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	// A concurrent first request holds the claim; the retry must not reach
	// the handler.
	require.NoError(t, fx.rdb.Set(t.Context(), "afx:idem:u1:req-race", "pending", 0).Err())

	body := `{"session_id":"s1","source_ref":"channel:1:2","destination_ref":"channel:3:4"}`
	rec := doJSON(t, fx.handler, http.MethodPost, "/v1/pairs", body, asUser("X-Idempotency-Key", "req-race"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "REQUEST_IN_FLIGHT")
	fx.pairs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIdempotency_ServerFaultReleasesClaim(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.users.On("Get", mock.Anything, "u1").Return(domain.User{ID: "u1", Plan: domain.PlanFree}, nil)
	fx.pairs.On("CountByUser", mock.Anything, "u1").Return(0, nil)
	fx.sessions.On("Get", mock.Anything, "s1").Return(domain.Session{ID: "s1", UserID: "u1", Active: true}, nil)
	fx.pairs.On("Create", mock.Anything, mock.Anything).Return(domain.Pair{}, domain.ErrInternal).Once()
	fx.pairs.On("Create", mock.Anything, mock.Anything).
		Return(domain.Pair{ID: "p1", UserID: "u1", State: domain.PairActive}, nil).Once()

	body := `{"session_id":"s1","source_ref":"channel:1:2","destination_ref":"channel:3:4"}`
	hdr := asUser("X-Idempotency-Key", "req-500")

	rec := doJSON(t, fx.handler, http.MethodPost, "/v1/pairs", body, hdr)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// The failed attempt released the claim; the retry runs the handler.
	rec = doJSON(t, fx.handler, http.MethodPost, "/v1/pairs", body, hdr)
	require.Equal(t, http.StatusCreated, rec.Code)
	fx.pairs.AssertNumberOfCalls(t, "Create", 2)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	rec := doJSON(t, fx.handler, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDashboard(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.stats.On("Dashboard", mock.Anything, "u1").Return(domain.DashboardStats{
		ActivePairs:       2,
		MessagesToday:     10,
		SuccessRate:       0.9,
		ConnectedAccounts: 1,
		QueueCounts:       map[string]int{"pending": 1},
	}, nil)

	rec := doJSON(t, fx.handler, http.MethodGet, "/v1/dashboard", "", asUser())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_pairs":2`)
}
