package service

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"positionbot/internal/models"
	"positionbot/pkg/utils"
)

// TelegramNotifier отправляет уведомления в Telegram-чат оператора.
//
// Telegram ограничивает отправку примерно одним сообщением в секунду
// на чат, поэтому перед каждой отправкой берётся токен у limiter'а.
type TelegramNotifier struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegramNotifier создает нотификатор и проверяет токен бота.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	utils.Log.Infow("Telegram бот авторизован", "username", api.Self.UserName)

	return &TelegramNotifier{
		api:     api,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}, nil
}

// Send отправляет уведомление в чат
func (t *TelegramNotifier) Send(ctx context.Context, notif *models.Notification) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, formatNotification(notif))
	_, err := t.api.Send(msg)
	return err
}

var _ TelegramSender = (*TelegramNotifier)(nil)

// formatNotification собирает текст сообщения с emoji по типу события
func formatNotification(notif *models.Notification) string {
	icon := "ℹ️"
	switch notif.Type {
	case models.NotificationTypeOpen:
		icon = "🟢"
	case models.NotificationTypeClose, models.NotificationTypeTP:
		icon = "✅"
	case models.NotificationTypeSL:
		icon = "🔴"
	case models.NotificationTypePartialTP:
		icon = "💰"
	case models.NotificationTypeTrailing:
		icon = "📈"
	case models.NotificationTypeLiquidation:
		icon = "⚠️"
	case models.NotificationTypeRiskBlock:
		icon = "🚫"
	case models.NotificationTypeGhost:
		icon = "👻"
	case models.NotificationTypeError:
		icon = "❌"
	}

	text := fmt.Sprintf("%s [%s] %s", icon, notif.Type, notif.Message)
	if notif.PositionID != nil {
		text += fmt.Sprintf("\nПозиция: %s", *notif.PositionID)
	}
	return text
}
