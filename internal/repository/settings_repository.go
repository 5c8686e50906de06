package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"positionbot/internal/models"
)

// Ошибки репозитория настроек
var (
	ErrSettingsNotFound = errors.New("settings not found")
)

const settingsColumns = `user_id, capital_usd, risk_per_trade_pct, max_position_pct,
	default_leverage, max_hold_hours, daily_loss_limit_pct, daily_loss_limit_usd,
	max_trades_per_day, trailing_enabled, partial_tp_enabled, weekend_block,
	notification_prefs, updated_at`

// SettingsRepository - работа с таблицей user_settings
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetByUser возвращает настройки пользователя
func (r *SettingsRepository) GetByUser(ctx context.Context, userID int64) (*models.UserSettings, error) {
	query := `
		SELECT ` + settingsColumns + `
		FROM user_settings
		WHERE user_id = $1`

	s, err := scanSettings(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return s, nil
}

// Upsert сохраняет настройки пользователя
func (r *SettingsRepository) Upsert(ctx context.Context, s *models.UserSettings) error {
	prefsJSON, err := json.Marshal(s.NotificationPrefs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_settings (` + settingsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id) DO UPDATE SET
			capital_usd = EXCLUDED.capital_usd,
			risk_per_trade_pct = EXCLUDED.risk_per_trade_pct,
			max_position_pct = EXCLUDED.max_position_pct,
			default_leverage = EXCLUDED.default_leverage,
			max_hold_hours = EXCLUDED.max_hold_hours,
			daily_loss_limit_pct = EXCLUDED.daily_loss_limit_pct,
			daily_loss_limit_usd = EXCLUDED.daily_loss_limit_usd,
			max_trades_per_day = EXCLUDED.max_trades_per_day,
			trailing_enabled = EXCLUDED.trailing_enabled,
			partial_tp_enabled = EXCLUDED.partial_tp_enabled,
			weekend_block = EXCLUDED.weekend_block,
			notification_prefs = EXCLUDED.notification_prefs,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		s.UserID,
		s.CapitalUSD,
		s.RiskPerTradePct,
		s.MaxPositionPct,
		s.DefaultLeverage,
		s.MaxHoldHours,
		s.DailyLossLimitPct,
		s.DailyLossLimitUSD,
		s.MaxTradesPerDay,
		s.TrailingEnabled,
		s.PartialTPEnabled,
		s.WeekendBlock,
		prefsJSON,
		s.UpdatedAt,
	)
	return err
}

// ListAll возвращает настройки всех пользователей (прогрев кэша на старте)
func (r *SettingsRepository) ListAll(ctx context.Context) ([]*models.UserSettings, error) {
	query := `
		SELECT ` + settingsColumns + `
		FROM user_settings
		ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []*models.UserSettings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return all, nil
}

func scanSettings(s scanner) (*models.UserSettings, error) {
	settings := &models.UserSettings{}
	var prefsJSON []byte

	err := s.Scan(
		&settings.UserID,
		&settings.CapitalUSD,
		&settings.RiskPerTradePct,
		&settings.MaxPositionPct,
		&settings.DefaultLeverage,
		&settings.MaxHoldHours,
		&settings.DailyLossLimitPct,
		&settings.DailyLossLimitUSD,
		&settings.MaxTradesPerDay,
		&settings.TrailingEnabled,
		&settings.PartialTPEnabled,
		&settings.WeekendBlock,
		&prefsJSON,
		&settings.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &settings.NotificationPrefs); err != nil {
			return nil, err
		}
	}
	return settings, nil
}
