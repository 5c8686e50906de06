package models

import "time"

// Stats представляет агрегированную статистику по сделкам пользователя
type Stats struct {
	TotalTrades    int            `json:"total_trades"`
	TotalPnl       float64        `json:"total_pnl"`
	TodayTrades    int            `json:"today_trades"`
	TodayPnl       float64        `json:"today_pnl"`
	WeekTrades     int            `json:"week_trades"`
	WeekPnl        float64        `json:"week_pnl"`
	MonthTrades    int            `json:"month_trades"`
	MonthPnl       float64        `json:"month_pnl"`
	WinRate        float64        `json:"win_rate"`
	AvgWin         float64        `json:"avg_win"`
	AvgLoss        float64        `json:"avg_loss"` // положительное число
	Sharpe         float64        `json:"sharpe"`   // аннуализированный
	ClosesByReason map[string]int `json:"closes_by_reason"`
}

// PerformanceSample представляет выборку по закрытым сделкам пользователя,
// используется расчётами Kelly и Sharpe
type PerformanceSample struct {
	UserID   int64     `json:"user_id"`
	Trades   int       `json:"trades"`
	Wins     int       `json:"wins"`
	AvgWin   float64   `json:"avg_win"`
	AvgLoss  float64   `json:"avg_loss"` // положительное число
	DailyPnl []float64 `json:"daily_pnl"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// WinRate возвращает долю прибыльных сделок (0..1)
func (s *PerformanceSample) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}
