package repository

import (
	"context"
	"database/sql"
	"time"

	"positionbot/internal/models"
)

// TradeRepository - работа с таблицей trades (append-only журнал закрытий)
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// SaveTrade сохраняет запись о закрытии (полном или частичном)
func (r *TradeRepository) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	query := `
		INSERT INTO trades (position_id, user_id, symbol, side, quantity,
			entry_price, exit_price, pnl, reason, created_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		trade.PositionID,
		trade.UserID,
		trade.Symbol,
		trade.Side,
		trade.Quantity,
		trade.EntryPrice,
		trade.ExitPrice,
		trade.Pnl,
		trade.Reason,
		trade.CreatedAt,
		trade.ClosedAt,
	).Scan(&trade.ID)
}

// ListByUser возвращает сделки пользователя, новые первыми
func (r *TradeRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, position_id, user_id, symbol, side, quantity,
			entry_price, exit_price, pnl, reason, created_at, closed_at
		FROM trades
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		t := &models.TradeRecord{}
		if err := rows.Scan(
			&t.ID,
			&t.PositionID,
			&t.UserID,
			&t.Symbol,
			&t.Side,
			&t.Quantity,
			&t.EntryPrice,
			&t.ExitPrice,
			&t.Pnl,
			&t.Reason,
			&t.CreatedAt,
			&t.ClosedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

// PerformanceSince собирает выборку по закрытым сделкам для Kelly и VaR.
// Частичные закрытия (partial_tp, emergency) в выборку не входят,
// чтобы не считать одну позицию несколькими сделками.
func (r *TradeRepository) PerformanceSince(ctx context.Context, userID int64, from time.Time) (*models.PerformanceSample, error) {
	sample := &models.PerformanceSample{
		UserID: userID,
		From:   from,
		To:     time.Now().UTC(),
	}

	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE pnl > 0),
			COALESCE(AVG(pnl) FILTER (WHERE pnl > 0), 0),
			COALESCE(ABS(AVG(pnl) FILTER (WHERE pnl < 0)), 0)
		FROM trades
		WHERE user_id = $1 AND created_at >= $2
			AND reason NOT IN ($3, $4)`

	err := r.db.QueryRowContext(ctx, query,
		userID, from, models.CloseReasonPartialTP, models.CloseReasonEmergency,
	).Scan(&sample.Trades, &sample.Wins, &sample.AvgWin, &sample.AvgLoss)
	if err != nil {
		return nil, err
	}

	// Дневной PNL (для VaR) считаем по всем сделкам, включая частичные
	dailyQuery := `
		SELECT COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY DATE(created_at AT TIME ZONE 'UTC')
		ORDER BY DATE(created_at AT TIME ZONE 'UTC')`

	rows, err := r.db.QueryContext(ctx, dailyQuery, userID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, err
		}
		sample.DailyPnl = append(sample.DailyPnl, pnl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sample, nil
}

// Stats собирает агрегированную статистику пользователя
func (r *TradeRepository) Stats(ctx context.Context, userID int64) (*models.Stats, error) {
	stats := &models.Stats{ClosesByReason: make(map[string]int)}

	query := `
		SELECT COUNT(*),
			COALESCE(SUM(pnl), 0),
			COUNT(*) FILTER (WHERE created_at >= DATE_TRUNC('day', NOW() AT TIME ZONE 'UTC')),
			COALESCE(SUM(pnl) FILTER (WHERE created_at >= DATE_TRUNC('day', NOW() AT TIME ZONE 'UTC')), 0),
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '7 days'),
			COALESCE(SUM(pnl) FILTER (WHERE created_at >= NOW() - INTERVAL '7 days'), 0),
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '30 days'),
			COALESCE(SUM(pnl) FILTER (WHERE created_at >= NOW() - INTERVAL '30 days'), 0),
			COALESCE(AVG(pnl) FILTER (WHERE pnl > 0), 0),
			COALESCE(ABS(AVG(pnl) FILTER (WHERE pnl < 0)), 0),
			COUNT(*) FILTER (WHERE pnl > 0)
		FROM trades
		WHERE user_id = $1`

	var wins int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.TotalTrades,
		&stats.TotalPnl,
		&stats.TodayTrades,
		&stats.TodayPnl,
		&stats.WeekTrades,
		&stats.WeekPnl,
		&stats.MonthTrades,
		&stats.MonthPnl,
		&stats.AvgWin,
		&stats.AvgLoss,
		&wins,
	)
	if err != nil {
		return nil, err
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(wins) / float64(stats.TotalTrades)
	}

	reasonQuery := `
		SELECT reason, COUNT(*)
		FROM trades
		WHERE user_id = $1
		GROUP BY reason`

	rows, err := r.db.QueryContext(ctx, reasonQuery, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		stats.ClosesByReason[reason] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
