package models

import "time"

// UserSettings представляет риск-настройки пользователя
//
// Кэшируются сервисом настроек и периодически перечитываются из БД,
// поэтому изменения применяются без рестарта бота.
type UserSettings struct {
	UserID     int64   `json:"user_id" db:"user_id"`
	CapitalUSD float64 `json:"capital_usd" db:"capital_usd"` // торговый капитал

	// Риск на сделку
	RiskPerTradePct float64 `json:"risk_per_trade_pct" db:"risk_per_trade_pct"` // дефолт 2%
	MaxPositionPct  float64 `json:"max_position_pct" db:"max_position_pct"`     // максимум капитала в одной позиции
	DefaultLeverage int     `json:"default_leverage" db:"default_leverage"`
	MaxHoldHours    float64 `json:"max_hold_hours" db:"max_hold_hours"` // дефолт 12

	// Дневные лимиты
	DailyLossLimitPct float64 `json:"daily_loss_limit_pct" db:"daily_loss_limit_pct"` // дефолт 5%
	DailyLossLimitUSD float64 `json:"daily_loss_limit_usd" db:"daily_loss_limit_usd"` // дефолт 500
	MaxTradesPerDay   int     `json:"max_trades_per_day" db:"max_trades_per_day"`     // дефолт 50

	// Поведение монитора
	TrailingEnabled  bool `json:"trailing_enabled" db:"trailing_enabled"`
	PartialTPEnabled bool `json:"partial_tp_enabled" db:"partial_tp_enabled"`
	WeekendBlock     bool `json:"weekend_block" db:"weekend_block"` // блокировать входы на выходных

	NotificationPrefs NotificationPreferences `json:"notification_prefs" db:"notification_prefs"` // JSON в БД
	UpdatedAt         time.Time               `json:"updated_at" db:"updated_at"`
}

// NotificationPreferences представляет настройки уведомлений пользователя
type NotificationPreferences struct {
	Open        bool `json:"open"`
	Close       bool `json:"close"`
	StopLoss    bool `json:"stop_loss"`
	PartialTP   bool `json:"partial_tp"`
	Trailing    bool `json:"trailing"`
	Liquidation bool `json:"liquidation"`
	RiskBlock   bool `json:"risk_block"`
	APIError    bool `json:"api_error"`
}

// DefaultUserSettings возвращает настройки по умолчанию для нового пользователя
func DefaultUserSettings(userID int64) *UserSettings {
	return &UserSettings{
		UserID:            userID,
		CapitalUSD:        10000,
		RiskPerTradePct:   2.0,
		MaxPositionPct:    25.0,
		DefaultLeverage:   1,
		MaxHoldHours:      12,
		DailyLossLimitPct: 5.0,
		DailyLossLimitUSD: 500,
		MaxTradesPerDay:   50,
		TrailingEnabled:   true,
		PartialTPEnabled:  true,
		WeekendBlock:      true,
		NotificationPrefs: NotificationPreferences{
			Open: true, Close: true, StopLoss: true, PartialTP: true,
			Trailing: true, Liquidation: true, RiskBlock: true, APIError: true,
		},
	}
}
