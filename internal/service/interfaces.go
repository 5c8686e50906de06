package service

import (
	"context"
	"time"

	"positionbot/internal/models"
	"positionbot/internal/repository"
)

// PositionRepositoryInterface определяет интерфейс репозитория позиций
type PositionRepositoryInterface interface {
	UpsertBatch(ctx context.Context, positions []*models.Position) error
	ListOpen(ctx context.Context) ([]*models.Position, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Position, error)
	GetByID(ctx context.Context, id string) (*models.Position, error)
	MarkClosedExcept(ctx context.Context, openIDs []string) error
	DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error)
}

// TradeRepositoryInterface определяет интерфейс репозитория сделок
type TradeRepositoryInterface interface {
	SaveTrade(ctx context.Context, trade *models.TradeRecord) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*models.TradeRecord, error)
	PerformanceSince(ctx context.Context, userID int64, from time.Time) (*models.PerformanceSample, error)
	Stats(ctx context.Context, userID int64) (*models.Stats, error)
}

// SettingsRepositoryInterface определяет интерфейс репозитория настроек
type SettingsRepositoryInterface interface {
	GetByUser(ctx context.Context, userID int64) (*models.UserSettings, error)
	Upsert(ctx context.Context, settings *models.UserSettings) error
	ListAll(ctx context.Context) ([]*models.UserSettings, error)
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Save(ctx context.Context, n *models.Notification) error
	ListRecent(ctx context.Context, userID int64, limit int) ([]*models.Notification, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)
var _ SettingsRepositoryInterface = (*repository.SettingsRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// TelegramSender - интерфейс отправки уведомлений в Telegram
type TelegramSender interface {
	Send(ctx context.Context, notif *models.Notification) error
}
