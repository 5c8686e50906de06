package models

import "time"

// Position представляет отслеживаемую позицию пользователя
//
// Живёт в памяти (реестр - первичное хранилище), в БД пишется
// синхронизатором по dirty-флагу. Все изменения полей выполняются
// только через реестр под его блокировкой.
type Position struct {
	ID               string    `json:"id" db:"id"` // uuid
	UserID           int64     `json:"user_id" db:"user_id"`
	Symbol           string    `json:"symbol" db:"symbol"`
	Side             string    `json:"side" db:"side"` // long, short
	EntryPrice       float64   `json:"entry_price" db:"entry_price"`
	Quantity         float64   `json:"quantity" db:"quantity"`                   // текущий остаток
	OriginalQuantity float64   `json:"original_quantity" db:"original_quantity"` // размер на момент входа
	Leverage         int       `json:"leverage" db:"leverage"`                   // 1 = spot
	StopLoss         float64   `json:"stop_loss" db:"stop_loss"`
	TakeProfit       float64   `json:"take_profit" db:"take_profit"`

	// Trailing stop
	TrailingActive      bool    `json:"trailing_active" db:"trailing_active"`
	TrailingDistancePct float64 `json:"trailing_distance_pct" db:"trailing_distance_pct"`
	HighestPrice        float64 `json:"highest_price" db:"highest_price"` // максимум с момента входа (long)
	LowestPrice         float64 `json:"lowest_price" db:"lowest_price"`   // минимум с момента входа (short)

	// Break-even и частичные тейки
	BreakEvenApplied bool             `json:"break_even_applied" db:"break_even_applied"`
	PartialTPLevels  []PartialTPLevel `json:"partial_tp_levels" db:"partial_tp_levels"` // JSON в БД

	// Контроль ликвидации
	LiquidationWarnings int    `json:"liquidation_warnings" db:"liquidation_warnings"` // отправлено предупреждений
	LiquidationTier     string `json:"liquidation_tier" db:"liquidation_tier"`         // последний известный tier
	AutoCloseAttempted  bool   `json:"auto_close_attempted" db:"auto_close_attempted"`

	// Происхождение позиции
	Origin string `json:"origin" db:"origin"` // см. PositionOrigin* константы
	Notes  string `json:"notes" db:"notes"`

	State         string    `json:"state" db:"state"` // FSM: pending, active, reducing, closing, closed, error
	OpenedAt      time.Time `json:"opened_at" db:"opened_at"`
	MaxHoldHours  float64   `json:"max_hold_hours" db:"max_hold_hours"` // 0 = из настроек пользователя
	LastPrice     float64   `json:"last_price" db:"last_price"`
	LastCheckedAt time.Time `json:"last_checked_at" db:"last_checked_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`

	// Dirty выставляется реестром при любой мутации, сбрасывается
	// синхронизатором после успешной записи в БД. В БД не хранится.
	Dirty bool `json:"-" db:"-"`
}

// PartialTPLevel представляет уровень частичной фиксации прибыли
//
// ClosePct считается от ИСХОДНОГО размера позиции, не от остатка.
type PartialTPLevel struct {
	TriggerPct float64 `json:"trigger_pct"` // профит % для срабатывания
	ClosePct   float64 `json:"close_pct"`   // доля исходного количества (0..1)
	Executed   bool    `json:"executed"`    // уровень срабатывает не более одного раза
}

// Состояния позиции (state machine)
const (
	PositionStatePending  = "pending"  // ордер отправлен, подтверждение не получено
	PositionStateActive   = "active"   // позиция открыта, мониторится
	PositionStateReducing = "reducing" // выполняется частичное закрытие
	PositionStateClosing  = "closing"  // выполняется полное закрытие
	PositionStateClosed   = "closed"   // терминальное состояние
	PositionStateError    = "error"    // ошибка, требуется вмешательство
)

// Стороны позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// Происхождение позиции
const (
	PositionOriginEngine     = "engine_opened"            // открыта ботом через риск-гейт
	PositionOriginManual     = "manually_opened"          // открыта пользователем в обход гейта
	PositionOriginReconciled = "reconciled_from_exchange" // подхвачена сверкой с биржи
)

/// DefaultPartialTPLevels возвращает уровни частичных тейков по умолчанию:
// 40% объёма на +3%, 30% на +5%, 30% на +7%
func DefaultPartialTPLevels() []PartialTPLevel {
	return []PartialTPLevel{
		{TriggerPct: 3.0, ClosePct: 0.40},
		{TriggerPct: 5.0, ClosePct: 0.30},
		{TriggerPct: 7.0, ClosePct: 0.30},
	}
}

// ProfitPct возвращает текущий профит позиции в процентах от цены входа
func (p *Position) ProfitPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == SideLong {
		return (price - p.EntryPrice) / p.EntryPrice * 100
	}
	return (p.EntryPrice - price) / p.EntryPrice * 100
}

// UnrealizedPnl возвращает нереализованный PNL в котируемой валюте
func (p *Position) UnrealizedPnl(price float64) float64 {
	if p.Side == SideLong {
		return (price - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - price) * p.Quantity
}

// Age возвращает время жизни позиции
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// IsSpot возвращает true для позиции без плеча (ликвидация невозможна)
func (p *Position) IsSpot() bool {
	return p.Leverage <= 1
}
