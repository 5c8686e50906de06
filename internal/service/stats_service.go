package service

import (
	"context"
	"time"

	"positionbot/internal/models"
	"positionbot/internal/risk"
)

// Окно выборки для Kelly/Sharpe/VaR
const performanceWindowDays = 30

// StatsService предоставляет бизнес-логику для статистики торговли.
//
// Отвечает за:
// - Агрегированную статистику пользователя (для API)
// - Выборку производительности за окно (питает риск-гейт)
// - Расчёт аннуализированного Sharpe
type StatsService struct {
	trades   TradeRepositoryInterface
	settings *SettingsService
}

// NewStatsService создает новый экземпляр StatsService.
func NewStatsService(trades TradeRepositoryInterface, settings *SettingsService) *StatsService {
	return &StatsService{
		trades:   trades,
		settings: settings,
	}
}

// GetStats возвращает статистику пользователя с расчётным Sharpe
func (s *StatsService) GetStats(ctx context.Context, userID int64) (*models.Stats, error) {
	stats, err := s.trades.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	sample, err := s.Performance(ctx, userID)
	if err != nil {
		// Статистика важнее Sharpe - отдаём без него
		return stats, nil
	}

	capital := s.settings.CapitalFor(userID)
	if capital > 0 {
		returns := make([]float64, len(sample.DailyPnl))
		for i, pnl := range sample.DailyPnl {
			returns[i] = pnl / capital
		}
		stats.Sharpe = risk.AnnualizedSharpe(returns)
	}
	return stats, nil
}

// Performance возвращает выборку закрытых сделок за окно.
//
// Риск-гейт использует её для Kelly-сайзинга и VaR.
func (s *StatsService) Performance(ctx context.Context, userID int64) (*models.PerformanceSample, error) {
	from := time.Now().UTC().AddDate(0, 0, -performanceWindowDays)
	return s.trades.PerformanceSince(ctx, userID, from)
}

// RecentTrades возвращает последние сделки пользователя
func (s *StatsService) RecentTrades(ctx context.Context, userID int64, limit int) ([]*models.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return s.trades.ListByUser(ctx, userID, limit)
}
