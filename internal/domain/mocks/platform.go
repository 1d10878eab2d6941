package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/sunil55999/autoforwardx/internal/domain"
)

// MockPlatformClient is a mock for domain.PlatformClient.
type MockPlatformClient struct{ mock.Mock }

func (m *MockPlatformClient) Open(ctx domain.Context, s domain.Session) (<-chan domain.UpdateEvent, error) {
	args := m.Called(ctx, s)
	var ch <-chan domain.UpdateEvent
	if v := args.Get(0); v != nil {
		ch = v.(<-chan domain.UpdateEvent)
	}
	return ch, args.Error(1)
}

func (m *MockPlatformClient) SendOTP(ctx domain.Context, phone string) (string, error) {
	args := m.Called(ctx, phone)
	return args.String(0), args.Error(1)
}

func (m *MockPlatformClient) VerifyOTP(ctx domain.Context, s domain.Session, code, codeHash string) (domain.Session, error) {
	args := m.Called(ctx, s, code, codeHash)
	return args.Get(0).(domain.Session), args.Error(1)
}

func (m *MockPlatformClient) ListDialogs(ctx domain.Context, sessionID string) ([]domain.Dialog, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]domain.Dialog), args.Error(1)
}

func (m *MockPlatformClient) Forward(ctx domain.Context, sessionID, sourceRef, destRef string, messageID int64, silent bool) error {
	return m.Called(ctx, sessionID, sourceRef, destRef, messageID, silent).Error(0)
}

func (m *MockPlatformClient) Copy(ctx domain.Context, sessionID, destRef string, snap domain.MessageSnapshot, silent bool) error {
	return m.Called(ctx, sessionID, destRef, snap, silent).Error(0)
}

func (m *MockPlatformClient) HealthPing(ctx domain.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *MockPlatformClient) Close(ctx domain.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

// MockEventPublisher is a mock for domain.EventPublisher.
type MockEventPublisher struct{ mock.Mock }

func (m *MockEventPublisher) Publish(ctx domain.Context, e domain.ActivityEntry) error {
	return m.Called(ctx, e).Error(0)
}

// MockDailyCounter is a mock for domain.DailyCounter.
type MockDailyCounter struct{ mock.Mock }

func (m *MockDailyCounter) Incr(ctx domain.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDailyCounter) Today(ctx domain.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}
