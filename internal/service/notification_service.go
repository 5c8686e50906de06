package service

import (
	"context"
	"time"

	"positionbot/internal/models"
	"positionbot/pkg/utils"
)

// NotificationService предоставляет бизнес-логику для управления уведомлениями.
//
// Отвечает за:
// - Приём уведомлений от монитора и исполнителя (неблокирующая очередь)
// - Фильтрацию по настройкам пользователя (notification_prefs)
// - Запись в журнал БД
// - Broadcast через WebSocket и отправку в Telegram
//
// Публикация неблокирующая: мониторный цикл не должен ждать
// Telegram API. Если очередь переполнена, уведомление теряется
// (журналирование в БД важнее realtime-доставки, но и оно идёт
// через ту же очередь - переполнение логируется).
type NotificationService struct {
	repo     NotificationRepositoryInterface
	settings *SettingsService
	wsHub    WebSocketBroadcaster
	telegram TelegramSender

	queue chan *models.Notification
}

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(repo NotificationRepositoryInterface, settings *SettingsService, queueSize int) *NotificationService {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &NotificationService{
		repo:     repo,
		settings: settings,
		queue:    make(chan *models.Notification, queueSize),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
// Вызывается после инициализации Hub в main.go.
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// SetTelegram устанавливает отправщик Telegram.
func (s *NotificationService) SetTelegram(sender TelegramSender) {
	s.telegram = sender
}

// Notify ставит уведомление в очередь доставки.
//
// Не блокируется: вызывается из мониторного цикла и исполнителя ордеров.
func (s *NotificationService) Notify(notif *models.Notification) {
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now().UTC()
	}
	if notif.Severity == "" {
		notif.Severity = models.SeverityInfo
	}

	select {
	case s.queue <- notif:
	default:
		utils.Log.Warnw("Очередь уведомлений переполнена, уведомление потеряно",
			"type", notif.Type, "user_id", notif.UserID)
	}
}

// Run обрабатывает очередь уведомлений до отмены контекста
func (s *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-s.queue:
			s.deliver(ctx, notif)
		}
	}
}

// deliver доставляет одно уведомление по всем каналам
func (s *NotificationService) deliver(ctx context.Context, notif *models.Notification) {
	if !s.isEnabledFor(ctx, notif) {
		return
	}

	// Журнал в БД. При ошибке всё равно рассылаем - лучше доставить
	// без записи, чем потерять событие целиком
	if err := s.repo.Save(ctx, notif); err != nil {
		utils.Log.Errorw("Ошибка записи уведомления в БД",
			"type", notif.Type, "user_id", notif.UserID, "error", err)
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}

	if s.telegram != nil {
		if err := s.telegram.Send(ctx, notif); err != nil {
			utils.Log.Warnw("Ошибка отправки в Telegram",
				"type", notif.Type, "error", err)
		}
	}
}

// isEnabledFor проверяет, включен ли тип уведомлений в настройках пользователя.
//
// Системные уведомления (UserID == 0) не фильтруются.
// При ошибке получения настроек уведомление считается включенным
// (fail-safe: лучше уведомить, чем пропустить важное событие).
func (s *NotificationService) isEnabledFor(ctx context.Context, notif *models.Notification) bool {
	if notif.UserID == 0 || s.settings == nil {
		return true
	}

	settings, err := s.settings.Settings(ctx, notif.UserID)
	if err != nil {
		return true
	}
	prefs := settings.NotificationPrefs

	switch notif.Type {
	case models.NotificationTypeOpen:
		return prefs.Open
	case models.NotificationTypeClose, models.NotificationTypeTP:
		return prefs.Close
	case models.NotificationTypeSL:
		return prefs.StopLoss
	case models.NotificationTypePartialTP:
		return prefs.PartialTP
	case models.NotificationTypeTrailing:
		return prefs.Trailing
	case models.NotificationTypeLiquidation:
		return prefs.Liquidation
	case models.NotificationTypeRiskBlock:
		return prefs.RiskBlock
	case models.NotificationTypeError, models.NotificationTypeGhost:
		return prefs.APIError
	default:
		// Неизвестный тип - считаем включенным
		return true
	}
}

// GetNotifications возвращает последние уведомления пользователя.
func (s *NotificationService) GetNotifications(ctx context.Context, userID int64, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	return s.repo.ListRecent(ctx, userID, limit)
}

// CleanupOld удаляет уведомления старше заданного количества дней.
func (s *NotificationService) CleanupOld(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = 30
	}
	return s.repo.DeleteOlderThan(ctx, days)
}
