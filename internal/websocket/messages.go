package websocket

import (
	"time"

	"positionbot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypePositionUpdate - обновление состояния позиции
	// Отправляется после каждого тика монитора для активных позиций
	MessageTypePositionUpdate MessageType = "positionUpdate"

	// MessageTypeNotification - новое уведомление
	// Отправляется при событиях: открытие, закрытие, SL, TP, ликвидация, ошибки
	MessageTypeNotification MessageType = "notification"

	// MessageTypeStatsUpdate - обновление статистики торговли
	// Отправляется после закрытия сделки
	MessageTypeStatsUpdate MessageType = "statsUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PositionUpdateMessage - сообщение об обновлении позиции
//
// Содержит срез состояния позиции после тика монитора:
// цена, профит, текущий SL (с учётом трейлинга и безубытка), state machine
type PositionUpdateMessage struct {
	BaseMessage
	PositionID string              `json:"position_id"`
	Data       *PositionUpdateData `json:"data"`
}

// PositionUpdateData - данные обновления позиции
type PositionUpdateData struct {
	UserID int64  `json:"user_id"`
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	State  string `json:"state"`

	EntryPrice float64 `json:"entry_price"`
	LastPrice  float64 `json:"last_price"`
	Quantity   float64 `json:"quantity"`
	Leverage   int     `json:"leverage"`

	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	ProfitPct       float64 `json:"profit_pct"`
	TrailingActive  bool    `json:"trailing_active"`
	BreakEvenActive bool    `json:"break_even_active"`

	LastCheckedAt time.Time `json:"last_checked_at"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	ID         int                    `json:"id"`
	Type       string                 `json:"type"`
	Severity   string                 `json:"severity"`
	UserID     int64                  `json:"user_id"`
	PositionID *string                `json:"position_id,omitempty"`
	Message    string                 `json:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// StatsUpdateMessage - сообщение об обновлении статистики
type StatsUpdateMessage struct {
	BaseMessage
	UserID int64         `json:"user_id"`
	Data   *models.Stats `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewPositionUpdateMessage создает сообщение обновления позиции
func NewPositionUpdateMessage(p *models.Position) *PositionUpdateMessage {
	return &PositionUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePositionUpdate,
			Timestamp: time.Now(),
		},
		PositionID: p.ID,
		Data: &PositionUpdateData{
			UserID:          p.UserID,
			Symbol:          p.Symbol,
			Side:            p.Side,
			State:           p.State,
			EntryPrice:      p.EntryPrice,
			LastPrice:       p.LastPrice,
			Quantity:        p.Quantity,
			Leverage:        p.Leverage,
			StopLoss:        p.StopLoss,
			TakeProfit:      p.TakeProfit,
			ProfitPct:       p.ProfitPct(p.LastPrice),
			TrailingActive:  p.TrailingActive,
			BreakEvenActive: p.BreakEvenApplied,
			LastCheckedAt:   p.LastCheckedAt,
		},
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:         notif.ID,
			Type:       notif.Type,
			Severity:   notif.Severity,
			UserID:     notif.UserID,
			PositionID: notif.PositionID,
			Message:    notif.Message,
			Meta:       notif.Meta,
			Timestamp:  notif.Timestamp,
		},
	}
}

// NewStatsUpdateMessage создает сообщение обновления статистики
func NewStatsUpdateMessage(userID int64, stats *models.Stats) *StatsUpdateMessage {
	return &StatsUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStatsUpdate,
			Timestamp: time.Now(),
		},
		UserID: userID,
		Data:   stats,
	}
}
