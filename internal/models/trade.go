package models

import "time"

// TradeRecord представляет запись о завершённой сделке (полной или частичной)
type TradeRecord struct {
	ID         int        `json:"id" db:"id"`
	PositionID string     `json:"position_id" db:"position_id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	Symbol     string     `json:"symbol" db:"symbol"`
	Side       string     `json:"side" db:"side"`
	Quantity   float64    `json:"quantity" db:"quantity"`
	EntryPrice float64    `json:"entry_price" db:"entry_price"`
	ExitPrice  float64    `json:"exit_price" db:"exit_price"`
	Pnl        float64    `json:"pnl" db:"pnl"`
	Reason     string     `json:"reason" db:"reason"` // см. CloseReason* константы
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// Причины закрытия позиции
const (
	CloseReasonStopLoss    = "stop_loss"
	CloseReasonTakeProfit  = "take_profit"
	CloseReasonPartialTP   = "partial_tp"
	CloseReasonTrailing    = "trailing_stop"
	CloseReasonTimeExit    = "time_exit"
	CloseReasonTimeForce   = "time_force"  // принудительно по 2x max hold
	CloseReasonLiquidation = "liquidation" // авто-закрытие у зоны ликвидации
	CloseReasonEmergency   = "emergency"   // аварийное частичное закрытие
	CloseReasonManual      = "manual"
	CloseReasonGhost       = "ghost" // позиции нет на бирже
)
