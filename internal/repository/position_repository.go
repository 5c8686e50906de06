package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"positionbot/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

const positionColumns = `id, user_id, symbol, side, entry_price, quantity, original_quantity,
	leverage, stop_loss, take_profit, trailing_active, trailing_distance_pct,
	highest_price, lowest_price, break_even_applied, partial_tp_levels,
	liquidation_warnings, liquidation_tier, auto_close_attempted, origin, notes,
	state, opened_at, max_hold_hours, last_price, last_checked_at, updated_at`

// PositionRepository - работа с таблицей positions
//
// Таблица - реплика in-memory реестра: пишет в неё только
// синхронизатор, читает только восстановление после рестарта и API.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// UpsertBatch записывает пачку позиций одной транзакцией
func (r *PositionRepository) UpsertBatch(ctx context.Context, positions []*models.Position) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			stop_loss = EXCLUDED.stop_loss,
			take_profit = EXCLUDED.take_profit,
			trailing_active = EXCLUDED.trailing_active,
			trailing_distance_pct = EXCLUDED.trailing_distance_pct,
			highest_price = EXCLUDED.highest_price,
			lowest_price = EXCLUDED.lowest_price,
			break_even_applied = EXCLUDED.break_even_applied,
			partial_tp_levels = EXCLUDED.partial_tp_levels,
			liquidation_warnings = EXCLUDED.liquidation_warnings,
			liquidation_tier = EXCLUDED.liquidation_tier,
			auto_close_attempted = EXCLUDED.auto_close_attempted,
			notes = EXCLUDED.notes,
			state = EXCLUDED.state,
			last_price = EXCLUDED.last_price,
			last_checked_at = EXCLUDED.last_checked_at,
			updated_at = EXCLUDED.updated_at`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range positions {
		levelsJSON, err := json.Marshal(p.PartialTPLevels)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID,
			p.UserID,
			p.Symbol,
			p.Side,
			p.EntryPrice,
			p.Quantity,
			p.OriginalQuantity,
			p.Leverage,
			p.StopLoss,
			p.TakeProfit,
			p.TrailingActive,
			p.TrailingDistancePct,
			p.HighestPrice,
			p.LowestPrice,
			p.BreakEvenApplied,
			levelsJSON,
			p.LiquidationWarnings,
			p.LiquidationTier,
			p.AutoCloseAttempted,
			p.Origin,
			p.Notes,
			p.State,
			p.OpenedAt,
			p.MaxHoldHours,
			p.LastPrice,
			p.LastCheckedAt,
			p.UpdatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListOpen возвращает незакрытые позиции (восстановление после рестарта)
func (r *PositionRepository) ListOpen(ctx context.Context) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE state != $1
		ORDER BY opened_at`

	rows, err := r.db.QueryContext(ctx, query, models.PositionStateClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListByUser возвращает позиции пользователя, новые первыми
func (r *PositionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE user_id = $1
		ORDER BY opened_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id string) (*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE id = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// MarkClosedExcept закрывает все позиции, кроме перечисленных
//
// Вызывается синхронизатором: строки, открытые в БД, но отсутствующие
// в реестре - наследие упавшего процесса.
func (r *PositionRepository) MarkClosedExcept(ctx context.Context, openIDs []string) error {
	query := `
		UPDATE positions
		SET state = $1, updated_at = $2
		WHERE state != $1 AND NOT (id = ANY($3))`

	_, err := r.db.ExecContext(ctx, query,
		models.PositionStateClosed, time.Now().UTC(), pq.Array(openIDs))
	return err
}

// DeleteOlderThan удаляет закрытые позиции старше указанной даты
func (r *PositionRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	query := `DELETE FROM positions WHERE state = $1 AND updated_at < $2`

	result, err := r.db.ExecContext(ctx, query, models.PositionStateClosed, timestamp)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// scanner покрывает *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*models.Position, error) {
	p := &models.Position{}
	var levelsJSON []byte

	err := s.Scan(
		&p.ID,
		&p.UserID,
		&p.Symbol,
		&p.Side,
		&p.EntryPrice,
		&p.Quantity,
		&p.OriginalQuantity,
		&p.Leverage,
		&p.StopLoss,
		&p.TakeProfit,
		&p.TrailingActive,
		&p.TrailingDistancePct,
		&p.HighestPrice,
		&p.LowestPrice,
		&p.BreakEvenApplied,
		&levelsJSON,
		&p.LiquidationWarnings,
		&p.LiquidationTier,
		&p.AutoCloseAttempted,
		&p.Origin,
		&p.Notes,
		&p.State,
		&p.OpenedAt,
		&p.MaxHoldHours,
		&p.LastPrice,
		&p.LastCheckedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(levelsJSON) > 0 {
		if err := json.Unmarshal(levelsJSON, &p.PartialTPLevels); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func scanPositions(rows *sql.Rows) ([]*models.Position, error) {
	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}
