// Package mocks provides testify mocks for the domain ports.
package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// MockUserRepository is a mock for domain.UserRepository.
type MockUserRepository struct{ mock.Mock }

func (m *MockUserRepository) Create(ctx domain.Context, u domain.User) (string, error) {
	args := m.Called(ctx, u)
	return args.String(0), args.Error(1)
}

func (m *MockUserRepository) Get(ctx domain.Context, id string) (domain.User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.User), args.Error(1)
}

func (m *MockUserRepository) Delete(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockUserRepository) CountByPlan(ctx domain.Context) (map[string]int, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]int), args.Error(1)
}

// MockSessionRepository is a mock for domain.SessionRepository.
type MockSessionRepository struct{ mock.Mock }

func (m *MockSessionRepository) Create(ctx domain.Context, s domain.Session) (string, error) {
	args := m.Called(ctx, s)
	return args.String(0), args.Error(1)
}

func (m *MockSessionRepository) Get(ctx domain.Context, id string) (domain.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *MockSessionRepository) ListByUser(ctx domain.Context, userID string) ([]domain.Session, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockSessionRepository) ListUsable(ctx domain.Context) ([]domain.Session, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockSessionRepository) UpdateCredentials(ctx domain.Context, id string, credentials []byte, displayName string) error {
	return m.Called(ctx, id, credentials, displayName).Error(0)
}

func (m *MockSessionRepository) SetActive(ctx domain.Context, id string, active bool) error {
	return m.Called(ctx, id, active).Error(0)
}

func (m *MockSessionRepository) TouchHealth(ctx domain.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockSessionRepository) Delete(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSessionRepository) CountByUser(ctx domain.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockSessionRepository) Count(ctx domain.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockPairRepository is a mock for domain.PairRepository.
type MockPairRepository struct{ mock.Mock }

func (m *MockPairRepository) Create(ctx domain.Context, p domain.Pair) (domain.Pair, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(domain.Pair), args.Error(1)
}

func (m *MockPairRepository) Get(ctx domain.Context, id string) (domain.Pair, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Pair), args.Error(1)
}

func (m *MockPairRepository) ListByUser(ctx domain.Context, userID string) ([]domain.Pair, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Pair), args.Error(1)
}

func (m *MockPairRepository) ListBySession(ctx domain.Context, sessionID string) ([]domain.Pair, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]domain.Pair), args.Error(1)
}

func (m *MockPairRepository) ListActiveBySource(ctx domain.Context, sessionID, sourceRef string) ([]domain.Pair, error) {
	args := m.Called(ctx, sessionID, sourceRef)
	return args.Get(0).([]domain.Pair), args.Error(1)
}

func (m *MockPairRepository) Update(ctx domain.Context, p domain.Pair) (domain.Pair, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(domain.Pair), args.Error(1)
}

func (m *MockPairRepository) UpdateState(ctx domain.Context, id string, state domain.PairState) error {
	return m.Called(ctx, id, state).Error(0)
}

func (m *MockPairRepository) BulkUpdateState(ctx domain.Context, ids []string, state domain.PairState) (int64, error) {
	args := m.Called(ctx, ids, state)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPairRepository) PauseAllForSession(ctx domain.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPairRepository) IncrStats(ctx domain.Context, id string, d domain.StatsDelta) error {
	return m.Called(ctx, id, d).Error(0)
}

func (m *MockPairRepository) Delete(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockPairRepository) CountByUser(ctx domain.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockPairRepository) Count(ctx domain.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockFilterRepository is a mock for domain.FilterRepository.
type MockFilterRepository struct{ mock.Mock }

func (m *MockFilterRepository) PhrasesFor(ctx domain.Context, userID, pairID string) ([]domain.BlockedPhrase, error) {
	args := m.Called(ctx, userID, pairID)
	return args.Get(0).([]domain.BlockedPhrase), args.Error(1)
}

func (m *MockFilterRepository) ImagesFor(ctx domain.Context, userID, pairID string) ([]domain.BlockedImage, error) {
	args := m.Called(ctx, userID, pairID)
	return args.Get(0).([]domain.BlockedImage), args.Error(1)
}

func (m *MockFilterRepository) AddPhrase(ctx domain.Context, p domain.BlockedPhrase) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockFilterRepository) DeletePhrase(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockFilterRepository) ListPhrases(ctx domain.Context, userID string) ([]domain.BlockedPhrase, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.BlockedPhrase), args.Error(1)
}

func (m *MockFilterRepository) AddImage(ctx domain.Context, im domain.BlockedImage) (string, error) {
	args := m.Called(ctx, im)
	return args.String(0), args.Error(1)
}

func (m *MockFilterRepository) DeleteImage(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockFilterRepository) ListImages(ctx domain.Context, userID string) ([]domain.BlockedImage, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.BlockedImage), args.Error(1)
}

// MockQueueRepository is a mock for domain.QueueRepository.
type MockQueueRepository struct{ mock.Mock }

func (m *MockQueueRepository) Enqueue(ctx domain.Context, it domain.QueueItem) (string, error) {
	args := m.Called(ctx, it)
	return args.String(0), args.Error(1)
}

func (m *MockQueueRepository) ClaimDue(ctx domain.Context, now time.Time, limit int) ([]domain.QueueItem, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]domain.QueueItem), args.Error(1)
}

func (m *MockQueueRepository) Complete(ctx domain.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockQueueRepository) Fail(ctx domain.Context, id, lastError string, at time.Time) error {
	return m.Called(ctx, id, lastError, at).Error(0)
}

func (m *MockQueueRepository) Retry(ctx domain.Context, id, lastError string, nextAt time.Time, countAttempt bool) error {
	return m.Called(ctx, id, lastError, nextAt, countAttempt).Error(0)
}

func (m *MockQueueRepository) Release(ctx domain.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockQueueRepository) ReleaseAllProcessing(ctx domain.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) ClearFailed(ctx domain.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) StatsByStatus(ctx domain.Context) (map[string]int, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *MockQueueRepository) ListFailedByPair(ctx domain.Context, pairID string, limit int) ([]domain.QueueItem, error) {
	args := m.Called(ctx, pairID, limit)
	return args.Get(0).([]domain.QueueItem), args.Error(1)
}

// MockActivityRepository is a mock for domain.ActivityRepository.
type MockActivityRepository struct{ mock.Mock }

func (m *MockActivityRepository) Append(ctx domain.Context, e domain.ActivityEntry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockActivityRepository) ListRecent(ctx domain.Context, userID string, limit int) ([]domain.ActivityEntry, error) {
	args := m.Called(ctx, userID, limit)
	return args.Get(0).([]domain.ActivityEntry), args.Error(1)
}

func (m *MockActivityRepository) PurgeBefore(ctx domain.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockStatsRepository is a mock for domain.StatsRepository.
type MockStatsRepository struct{ mock.Mock }

func (m *MockStatsRepository) Dashboard(ctx domain.Context, userID string) (domain.DashboardStats, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.DashboardStats), args.Error(1)
}

func (m *MockStatsRepository) Admin(ctx domain.Context) (domain.AdminStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.AdminStats), args.Error(1)
}
