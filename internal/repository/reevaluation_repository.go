package repository

import (
	"context"
	"database/sql"

	"positionbot/internal/models"
)

// ReevaluationRepository - работа с таблицей reevaluations
// (append-only журнал пересмотров защитных уровней)
type ReevaluationRepository struct {
	db *sql.DB
}

// NewReevaluationRepository создает новый экземпляр репозитория
func NewReevaluationRepository(db *sql.DB) *ReevaluationRepository {
	return &ReevaluationRepository{db: db}
}

// Append дописывает запись журнала; записи никогда не изменяются
func (r *ReevaluationRepository) Append(ctx context.Context, rec *models.ReevaluationRecord) error {
	query := `
		INSERT INTO reevaluations (position_id, user_id, symbol, type,
			old_stop_loss, new_stop_loss, old_take_profit, new_take_profit,
			price, profit_pct, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		rec.PositionID,
		rec.UserID,
		rec.Symbol,
		rec.Type,
		rec.OldStopLoss,
		rec.NewStopLoss,
		rec.OldTakeProfit,
		rec.NewTakeProfit,
		rec.Price,
		rec.ProfitPct,
		rec.Reason,
		rec.CreatedAt,
	).Scan(&rec.ID)
}

// ListByPosition возвращает журнал позиции в порядке событий
func (r *ReevaluationRepository) ListByPosition(ctx context.Context, positionID string, limit int) ([]*models.ReevaluationRecord, error) {
	query := `
		SELECT id, position_id, user_id, symbol, type,
			old_stop_loss, new_stop_loss, old_take_profit, new_take_profit,
			price, profit_pct, reason, created_at
		FROM reevaluations
		WHERE position_id = $1
		ORDER BY id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, positionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.ReevaluationRecord
	for rows.Next() {
		rec := &models.ReevaluationRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.PositionID,
			&rec.UserID,
			&rec.Symbol,
			&rec.Type,
			&rec.OldStopLoss,
			&rec.NewStopLoss,
			&rec.OldTakeProfit,
			&rec.NewTakeProfit,
			&rec.Price,
			&rec.ProfitPct,
			&rec.Reason,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
