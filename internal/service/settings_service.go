package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"positionbot/internal/models"
	"positionbot/internal/repository"
	"positionbot/pkg/utils"
)

// Ошибки сервиса настроек
var (
	ErrInvalidCapital      = errors.New("capital_usd must be > 0")
	ErrInvalidRiskPerTrade = errors.New("risk_per_trade_pct must be in (0, 10]")
	ErrInvalidLeverage     = errors.New("default_leverage must be in [1, 25]")
	ErrInvalidMaxHold      = errors.New("max_hold_hours must be > 0")
	ErrInvalidMaxPosition  = errors.New("max_position_pct must be in (0, 100]")
)

// SettingsService предоставляет бизнес-логику для управления настройками пользователей.
//
// Отвечает за:
// - Кэширование настроек (мониторный цикл читает их на каждом тике)
// - Создание дефолтных настроек для новых пользователей
// - Валидацию параметров при обновлении
// - Периодическую перечитку кэша из БД
type SettingsService struct {
	repo SettingsRepositoryInterface

	mu      sync.RWMutex
	cache   map[int64]*models.UserSettings
	refresh time.Duration
}

// NewSettingsService создает новый экземпляр SettingsService.
func NewSettingsService(repo SettingsRepositoryInterface, refresh time.Duration) *SettingsService {
	if refresh <= 0 {
		refresh = time.Minute
	}
	return &SettingsService{
		repo:    repo,
		cache:   make(map[int64]*models.UserSettings),
		refresh: refresh,
	}
}

// Preload загружает настройки всех пользователей в кэш (вызывается на старте)
func (s *SettingsService) Preload(ctx context.Context) error {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, settings := range all {
		s.cache[settings.UserID] = settings
	}
	return nil
}

// Run периодически перечитывает кэш из БД
func (s *SettingsService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Preload(ctx); err != nil {
				utils.Log.Warnw("Ошибка обновления кэша настроек", "error", err)
			}
		}
	}
}

// Settings возвращает настройки пользователя.
//
// Порядок: кэш -> БД -> дефолты (с записью в БД для нового пользователя).
// Возвращается копия - вызывающий код может её менять.
func (s *SettingsService) Settings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	s.mu.RLock()
	cached, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		out := *cached
		return &out, nil
	}

	settings, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrSettingsNotFound) {
			return nil, err
		}
		// Новый пользователь - создаём дефолты
		settings = models.DefaultUserSettings(userID)
		settings.UpdatedAt = time.Now().UTC()
		if err := s.repo.Upsert(ctx, settings); err != nil {
			utils.Log.Warnw("Не удалось сохранить дефолтные настройки",
				"user_id", userID, "error", err)
		}
	}

	s.mu.Lock()
	s.cache[userID] = settings
	s.mu.Unlock()

	out := *settings
	return &out, nil
}

// CapitalFor возвращает торговый капитал пользователя.
//
// Используется исполнителем ордеров для расчёта дневного PNL в процентах.
// При любой ошибке возвращает 0 - дневной трекер понимает это как
// "капитал неизвестен" и применяет только абсолютный лимит.
func (s *SettingsService) CapitalFor(userID int64) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	settings, err := s.Settings(ctx, userID)
	if err != nil {
		utils.Log.Warnw("Не удалось получить капитал пользователя",
			"user_id", userID, "error", err)
		return 0
	}
	return settings.CapitalUSD
}

// UpdateSettingsRequest представляет запрос на обновление настроек.
// Все поля опциональны - обновляются только переданные.
type UpdateSettingsRequest struct {
	CapitalUSD        *float64                        `json:"capital_usd,omitempty"`
	RiskPerTradePct   *float64                        `json:"risk_per_trade_pct,omitempty"`
	MaxPositionPct    *float64                        `json:"max_position_pct,omitempty"`
	DefaultLeverage   *int                            `json:"default_leverage,omitempty"`
	MaxHoldHours      *float64                        `json:"max_hold_hours,omitempty"`
	DailyLossLimitPct *float64                        `json:"daily_loss_limit_pct,omitempty"`
	DailyLossLimitUSD *float64                        `json:"daily_loss_limit_usd,omitempty"`
	MaxTradesPerDay   *int                            `json:"max_trades_per_day,omitempty"`
	TrailingEnabled   *bool                           `json:"trailing_enabled,omitempty"`
	PartialTPEnabled  *bool                           `json:"partial_tp_enabled,omitempty"`
	WeekendBlock      *bool                           `json:"weekend_block,omitempty"`
	NotificationPrefs *models.NotificationPreferences `json:"notification_prefs,omitempty"`
}

// UpdateSettings обновляет настройки пользователя.
//
// Принимает только те поля, которые нужно обновить.
// Валидирует параметры перед сохранением, обновляет кэш.
func (s *SettingsService) UpdateSettings(ctx context.Context, userID int64, req *UpdateSettingsRequest) (*models.UserSettings, error) {
	settings, err := s.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.CapitalUSD != nil {
		if *req.CapitalUSD <= 0 {
			return nil, ErrInvalidCapital
		}
		settings.CapitalUSD = *req.CapitalUSD
	}
	if req.RiskPerTradePct != nil {
		if *req.RiskPerTradePct <= 0 || *req.RiskPerTradePct > 10 {
			return nil, ErrInvalidRiskPerTrade
		}
		settings.RiskPerTradePct = *req.RiskPerTradePct
	}
	if req.MaxPositionPct != nil {
		if *req.MaxPositionPct <= 0 || *req.MaxPositionPct > 100 {
			return nil, ErrInvalidMaxPosition
		}
		settings.MaxPositionPct = *req.MaxPositionPct
	}
	if req.DefaultLeverage != nil {
		if *req.DefaultLeverage < 1 || *req.DefaultLeverage > 25 {
			return nil, ErrInvalidLeverage
		}
		settings.DefaultLeverage = *req.DefaultLeverage
	}
	if req.MaxHoldHours != nil {
		if *req.MaxHoldHours <= 0 {
			return nil, ErrInvalidMaxHold
		}
		settings.MaxHoldHours = *req.MaxHoldHours
	}
	if req.DailyLossLimitPct != nil {
		settings.DailyLossLimitPct = *req.DailyLossLimitPct
	}
	if req.DailyLossLimitUSD != nil {
		settings.DailyLossLimitUSD = *req.DailyLossLimitUSD
	}
	if req.MaxTradesPerDay != nil {
		settings.MaxTradesPerDay = *req.MaxTradesPerDay
	}
	if req.TrailingEnabled != nil {
		settings.TrailingEnabled = *req.TrailingEnabled
	}
	if req.PartialTPEnabled != nil {
		settings.PartialTPEnabled = *req.PartialTPEnabled
	}
	if req.WeekendBlock != nil {
		settings.WeekendBlock = *req.WeekendBlock
	}
	if req.NotificationPrefs != nil {
		settings.NotificationPrefs = *req.NotificationPrefs
	}

	settings.UpdatedAt = time.Now().UTC()
	if err := s.repo.Upsert(ctx, settings); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached := *settings
	s.cache[userID] = &cached
	s.mu.Unlock()

	return settings, nil
}
