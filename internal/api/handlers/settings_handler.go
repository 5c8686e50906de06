package handlers

import (
	"errors"
	"net/http"

	"positionbot/internal/service"
)

// SettingsHandler отвечает за настройки пользователей
//
// Endpoints:
// - GET /api/v1/settings?user_id=N - получение настроек
// - PATCH /api/v1/settings?user_id=N - частичное обновление
//
// Для нового пользователя GET создаёт запись с дефолтами.
// PATCH принимает только изменяемые поля - остальные не трогаются.
type SettingsHandler struct {
	settings *service.SettingsService
}

// NewSettingsHandler создает новый SettingsHandler
func NewSettingsHandler(settings *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetSettings возвращает настройки пользователя
//
// GET /api/v1/settings?user_id=N
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings, err := h.settings.Settings(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load settings: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

// UpdateSettings частично обновляет настройки пользователя
//
// PATCH /api/v1/settings?user_id=N
//
// HTTP коды:
// - 200 OK: обновлено, в ответе полный объект настроек
// - 400 Bad Request: невалидные параметры
// - 500 Internal Server Error: ошибка БД
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req service.UpdateSettingsRequest
	if err := fastjson.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	settings, err := h.settings.UpdateSettings(r.Context(), userID, &req)
	if err != nil {
		if isValidationError(err) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to update settings: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

func isValidationError(err error) bool {
	return errors.Is(err, service.ErrInvalidCapital) ||
		errors.Is(err, service.ErrInvalidRiskPerTrade) ||
		errors.Is(err, service.ErrInvalidLeverage) ||
		errors.Is(err, service.ErrInvalidMaxHold) ||
		errors.Is(err, service.ErrInvalidMaxPosition)
}
