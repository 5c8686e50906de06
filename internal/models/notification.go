package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID         int                    `json:"id" db:"id"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
	Type       string                 `json:"type" db:"type"`         // OPEN, CLOSE, SL, TP, PARTIAL_TP, TRAILING, LIQUIDATION, RISK_BLOCK, ERROR
	Severity   string                 `json:"severity" db:"severity"` // info, warn, error
	UserID     int64                  `json:"user_id" db:"user_id"`
	PositionID *string                `json:"position_id,omitempty" db:"position_id"`
	Message    string                 `json:"message" db:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeOpen        = "OPEN"        // открытие позиции
	NotificationTypeClose       = "CLOSE"       // закрытие позиции
	NotificationTypeSL          = "SL"          // срабатывание Stop Loss
	NotificationTypeTP          = "TP"          // срабатывание Take Profit
	NotificationTypePartialTP   = "PARTIAL_TP"  // частичная фиксация прибыли
	NotificationTypeTrailing    = "TRAILING"    // сдвиг трейлинг-стопа
	NotificationTypeLiquidation = "LIQUIDATION" // опасная близость к ликвидации / авто-закрытие
	NotificationTypeRiskBlock   = "RISK_BLOCK"  // вход отклонён риск-гейтом
	NotificationTypeGhost       = "GHOST"       // расхождение реестра с биржей
	NotificationTypeError       = "ERROR"       // ошибка API/ордера
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
