package handlers

import (
	"net/http"

	"positionbot/internal/guard"
	"positionbot/internal/service"
)

// RiskHandler отвечает за отчёты риск-движка
//
// Endpoints:
// - GET /api/v1/risk/daily?user_id=N - состояние дневных лимитов
//
// Дневной статус показывает накопленный PNL, количество сделок,
// серию убытков и активные блокировки - то же, что видит риск-гейт
// перед открытием позиции.
type RiskHandler struct {
	daily    *guard.DailyLossTracker
	settings *service.SettingsService
}

// NewRiskHandler создает новый RiskHandler
func NewRiskHandler(daily *guard.DailyLossTracker, settings *service.SettingsService) *RiskHandler {
	return &RiskHandler{
		daily:    daily,
		settings: settings,
	}
}

// GetDailyStatus возвращает состояние дневных лимитов пользователя
//
// GET /api/v1/risk/daily?user_id=N
func (h *RiskHandler) GetDailyStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	capital := h.settings.CapitalFor(userID)
	respondWithJSON(w, http.StatusOK, h.daily.Status(userID, capital))
}
