package service

import (
	"context"
	"sync"
	"time"

	"positionbot/internal/models"
	"positionbot/internal/repository"
)

// ============ Mock репозитория настроек ============

type MockSettingsRepository struct {
	mu       sync.Mutex
	settings map[int64]*models.UserSettings

	getErr    error
	upsertErr error
	listErr   error

	upsertCalls int
}

func newMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{settings: make(map[int64]*models.UserSettings)}
}

func (m *MockSettingsRepository) GetByUser(ctx context.Context, userID int64) (*models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.settings[userID]
	if !ok {
		return nil, repository.ErrSettingsNotFound
	}
	out := *s
	return &out, nil
}

func (m *MockSettingsRepository) Upsert(ctx context.Context, s *models.UserSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	stored := *s
	m.settings[s.UserID] = &stored
	return nil
}

func (m *MockSettingsRepository) ListAll(ctx context.Context) ([]*models.UserSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var all []*models.UserSettings
	for _, s := range m.settings {
		out := *s
		all = append(all, &out)
	}
	return all, nil
}

// ============ Mock репозитория уведомлений ============

type MockNotificationRepository struct {
	mu    sync.Mutex
	saved []*models.Notification

	saveErr error
}

func (m *MockNotificationRepository) Save(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	n.ID = len(m.saved) + 1
	m.saved = append(m.saved, n)
	return nil
}

func (m *MockNotificationRepository) ListRecent(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Notification
	for i := len(m.saved) - 1; i >= 0 && len(out) < limit; i-- {
		if m.saved[i].UserID == userID {
			out = append(out, m.saved[i])
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

func (m *MockNotificationRepository) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// ============ Mock репозитория сделок ============

type MockTradeRepository struct {
	mu     sync.Mutex
	trades []*models.TradeRecord

	stats    *models.Stats
	sample   *models.PerformanceSample
	statsErr error
}

func (m *MockTradeRepository) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade.ID = len(m.trades) + 1
	m.trades = append(m.trades, trade)
	return nil
}

func (m *MockTradeRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades, nil
}

func (m *MockTradeRepository) PerformanceSince(ctx context.Context, userID int64, from time.Time) (*models.PerformanceSample, error) {
	if m.sample != nil {
		return m.sample, nil
	}
	return &models.PerformanceSample{UserID: userID, From: from, To: time.Now().UTC()}, nil
}

func (m *MockTradeRepository) Stats(ctx context.Context, userID int64) (*models.Stats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	if m.stats != nil {
		return m.stats, nil
	}
	return &models.Stats{ClosesByReason: map[string]int{}}, nil
}

// ============ Mock WebSocket hub ============

type MockBroadcaster struct {
	mu     sync.Mutex
	events []*models.Notification
}

func (m *MockBroadcaster) BroadcastNotification(notif *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, notif)
}

func (m *MockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
