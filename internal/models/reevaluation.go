package models

import "time"

// ReevaluationRecord - запись журнала пересмотров позиции
//
// Append-only аудит: пишется при каждом изменении защитных уровней
// (trailing, динамический пересмотр, break-even) и каждом срабатывании
// выхода (SL, TP, time exit, частичный тейк). Никогда не изменяется -
// по журналу восстанавливается вся история решений монитора.
type ReevaluationRecord struct {
	ID         int64  `json:"id" db:"id"`
	PositionID string `json:"position_id" db:"position_id"`
	UserID     int64  `json:"user_id" db:"user_id"`
	Symbol     string `json:"symbol" db:"symbol"`
	Type       string `json:"type" db:"type"` // см. Reeval* константы

	OldStopLoss   float64 `json:"old_stop_loss" db:"old_stop_loss"`
	NewStopLoss   float64 `json:"new_stop_loss" db:"new_stop_loss"`
	OldTakeProfit float64 `json:"old_take_profit" db:"old_take_profit"`
	NewTakeProfit float64 `json:"new_take_profit" db:"new_take_profit"`

	Price     float64   `json:"price" db:"price"`           // цена на момент события
	ProfitPct float64   `json:"profit_pct" db:"profit_pct"` // профит позиции на момент события
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Типы записей журнала пересмотров
const (
	ReevalTrailingUpdate = "trailing_update"
	ReevalDynamicUpdate  = "dynamic_update"
	ReevalSLTrigger      = "sl_trigger"
	ReevalTPTrigger      = "tp_trigger"
	ReevalTimeExit       = "time_exit"
	ReevalPartialTP      = "partial_tp"
	ReevalLiquidation    = "liquidation"
	ReevalManualClose    = "manual_close"
)

// ReevalTypeForClose переводит причину закрытия в тип записи журнала
func ReevalTypeForClose(reason string) string {
	switch reason {
	case CloseReasonStopLoss, CloseReasonTrailing:
		return ReevalSLTrigger
	case CloseReasonTakeProfit:
		return ReevalTPTrigger
	case CloseReasonPartialTP, CloseReasonEmergency:
		return ReevalPartialTP
	case CloseReasonTimeExit, CloseReasonTimeForce:
		return ReevalTimeExit
	case CloseReasonLiquidation:
		return ReevalLiquidation
	default:
		return ReevalManualClose
	}
}
