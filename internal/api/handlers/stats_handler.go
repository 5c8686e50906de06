package handlers

import (
	"net/http"

	"positionbot/internal/bot"
	"positionbot/internal/service"
)

// StatsHandler отвечает за статистику торговли и состояние монитора
//
// Endpoints:
// - GET /api/v1/stats?user_id=N - агрегированная статистика
// - GET /api/v1/stats/trades?user_id=N - последние сделки
// - GET /api/v1/monitor - состояние мониторного цикла
type StatsHandler struct {
	stats    *service.StatsService
	monitor  *bot.Monitor
	registry *bot.Registry
}

// NewStatsHandler создает новый StatsHandler
func NewStatsHandler(stats *service.StatsService, monitor *bot.Monitor, registry *bot.Registry) *StatsHandler {
	return &StatsHandler{
		stats:    stats,
		monitor:  monitor,
		registry: registry,
	}
}

// GetStats возвращает агрегированную статистику пользователя
//
// GET /api/v1/stats?user_id=N
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.stats.GetStats(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get stats: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// GetTrades возвращает последние сделки пользователя
//
// GET /api/v1/stats/trades?user_id=N&limit=50
func (h *StatsHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := limitFromRequest(r, 50)

	trades, err := h.stats.RecentTrades(r.Context(), userID, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get trades: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"total":  len(trades),
	})
}

// GetMonitorStats возвращает состояние мониторного цикла
//
// GET /api/v1/monitor
func (h *StatsHandler) GetMonitorStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"monitor":            h.monitor.Stats(),
		"positions_by_state": h.registry.CountByState(),
	})
}
