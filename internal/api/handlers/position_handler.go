package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"positionbot/internal/bot"
	"positionbot/internal/guard"
	"positionbot/internal/models"
	"positionbot/internal/risk"
	"positionbot/internal/service"
)

// ReevalLog читает журнал пересмотров позиции
type ReevalLog interface {
	ListByPosition(ctx context.Context, positionID string, limit int) ([]*models.ReevaluationRecord, error)
}

// PositionHandler отвечает за жизненный цикл позиций через API
//
// Endpoints:
// - GET /api/v1/positions?user_id=N - список позиций пользователя
// - GET /api/v1/positions/{id} - одна позиция
// - GET /api/v1/positions/{id}/reevaluations - журнал пересмотров
// - POST /api/v1/positions - открыть позицию (через риск-гейт)
// - POST /api/v1/positions/{id}/close - закрыть позицию
// - POST /api/v1/positions/{id}/reduce - частично закрыть
//
// Открытие всегда идёт через цепочку риск-гейта: запрос с параметрами
// сигнала превращается в Decision (размер, SL/TP), и только одобренный
// вход доходит до исполнителя ордеров.
type PositionHandler struct {
	registry *bot.Registry
	executor *bot.Executor
	gate     *risk.Gate
	settings *service.SettingsService
	stats    *service.StatsService
	notifier bot.Notifier
	reevals  ReevalLog
}

// NewPositionHandler создает новый PositionHandler
func NewPositionHandler(registry *bot.Registry, executor *bot.Executor, gate *risk.Gate,
	settings *service.SettingsService, stats *service.StatsService, notifier bot.Notifier,
	reevals ReevalLog) *PositionHandler {

	return &PositionHandler{
		registry: registry,
		executor: executor,
		gate:     gate,
		settings: settings,
		stats:    stats,
		notifier: notifier,
		reevals:  reevals,
	}
}

// GetPositions возвращает позиции пользователя из реестра
//
// GET /api/v1/positions?user_id=N
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	positions := h.registry.ListByUser(userID)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"total":     len(positions),
	})
}

// GetPosition возвращает одну позицию
//
// GET /api/v1/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p, err := h.registry.Get(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "position not found")
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

// OpenPositionRequest - запрос на открытие позиции
type OpenPositionRequest struct {
	UserID     int64   `json:"user_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`       // long, short
	Confidence float64 `json:"confidence"` // уверенность сигнала 0..1

	// Опциональные параметры - дефолты из настроек пользователя
	Leverage       int     `json:"leverage,omitempty"`
	StopLossPct    float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct  float64 `json:"take_profit_pct,omitempty"`
	MaxHoldHours   float64 `json:"max_hold_hours,omitempty"`
}

// OpenPositionResponse - ответ открытия позиции
type OpenPositionResponse struct {
	Position *models.Position `json:"position,omitempty"`
	Decision *risk.Decision   `json:"decision"`
}

// OpenPosition прогоняет вход через риск-гейт и открывает позицию
//
// POST /api/v1/positions
//
// HTTP коды:
// - 201 Created: позиция открыта
// - 400 Bad Request: невалидные параметры
// - 409 Conflict: позиция по паре уже открыта или занята другой операцией
// - 422 Unprocessable Entity: вход отклонён риск-гейтом (Decision в ответе)
// - 502 Bad Gateway: ошибка биржи
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := fastjson.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if req.UserID <= 0 || req.Symbol == "" {
		respondWithError(w, http.StatusBadRequest, "user_id and symbol are required")
		return
	}
	if req.Side != models.SideLong && req.Side != models.SideShort {
		respondWithError(w, http.StatusBadRequest, "side must be long or short")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		respondWithError(w, http.StatusBadRequest, "confidence must be in [0, 1]")
		return
	}

	settings, err := h.settings.Settings(r.Context(), req.UserID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load settings: "+err.Error())
		return
	}

	leverage := req.Leverage
	if leverage == 0 {
		leverage = settings.DefaultLeverage
	}

	// Выборка производительности питает Kelly и VaR. Для нового
	// пользователя она пустая - сайзинг откатится к фиксированному риску
	sample, err := h.stats.Performance(r.Context(), req.UserID)
	if err != nil {
		sample = &models.PerformanceSample{UserID: req.UserID}
	}

	decision, err := h.gate.EvaluateEntry(r.Context(), risk.EntryProposal{
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Confidence:     req.Confidence,
		Leverage:       leverage,
		RequestedSLPct: req.StopLossPct,
		RequestedTPPct: req.TakeProfitPct,
	}, settings, sample, h.openExposures(req.UserID))
	if err != nil {
		respondWithError(w, http.StatusBadGateway, "risk evaluation failed: "+err.Error())
		return
	}

	if !decision.Approved {
		for _, reason := range decision.Reasons {
			bot.RecordRiskBlock(reason)
		}
		if h.notifier != nil {
			h.notifier.Notify(&models.Notification{
				Type:     models.NotificationTypeRiskBlock,
				Severity: models.SeverityWarn,
				UserID:   req.UserID,
				Message:  fmt.Sprintf("Вход %s %s отклонён: %v", req.Side, req.Symbol, decision.Reasons),
			})
		}
		respondWithJSON(w, http.StatusUnprocessableEntity, OpenPositionResponse{Decision: decision})
		return
	}

	maxHold := req.MaxHoldHours
	if maxHold == 0 {
		maxHold = settings.MaxHoldHours
	}
	var partialTP []models.PartialTPLevel
	if settings.PartialTPEnabled {
		partialTP = models.DefaultPartialTPLevels()
	}

	position, err := h.executor.OpenPosition(r.Context(), bot.OpenRequest{
		UserID:       req.UserID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Quantity:     decision.Quantity,
		Leverage:     leverage,
		StopLoss:     decision.StopLoss,
		TakeProfit:   decision.TakeProfit,
		MaxHoldHours: maxHold,
		PartialTP:    partialTP,
	})
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrPositionExists):
			respondWithError(w, http.StatusConflict, "position already open for this symbol")
		case errors.Is(err, bot.ErrPositionBusy):
			respondWithError(w, http.StatusConflict, "position is busy, try again")
		default:
			respondWithError(w, http.StatusBadGateway, "order failed: "+err.Error())
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, OpenPositionResponse{
		Position: position,
		Decision: decision,
	})
}

// GetReevaluations возвращает журнал пересмотров позиции
//
// GET /api/v1/positions/{id}/reevaluations
func (h *PositionHandler) GetReevaluations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if h.reevals == nil {
		respondWithError(w, http.StatusNotImplemented, "reevaluation log is not configured")
		return
	}
	records, err := h.reevals.ListByPosition(r.Context(), id, 200)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load reevaluations: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"reevaluations": records,
		"total":         len(records),
	})
}

// ClosePosition закрывает позицию целиком
//
// POST /api/v1/positions/{id}/close
//
// HTTP коды:
// - 200 OK: позиция закрыта, в ответе запись сделки
// - 404 Not Found: позиция не найдена
// - 409 Conflict: позиция занята другой операцией или не открыта
// - 502 Bad Gateway: ошибка биржи
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	trade, err := h.executor.ClosePosition(r.Context(), id, models.CloseReasonManual, "api")
	if err != nil {
		h.respondCloseError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, trade)
}

// ReducePositionRequest - запрос на частичное закрытие
type ReducePositionRequest struct {
	Quantity float64 `json:"quantity"`
}

// ReducePosition частично закрывает позицию
//
// POST /api/v1/positions/{id}/reduce
func (h *PositionHandler) ReducePosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ReducePositionRequest
	if err := fastjson.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Quantity <= 0 {
		respondWithError(w, http.StatusBadRequest, "quantity must be > 0")
		return
	}

	trade, err := h.executor.ReducePosition(r.Context(), id, req.Quantity, models.CloseReasonManual, "api")
	if err != nil {
		h.respondCloseError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, trade)
}

// respondCloseError переводит ошибки исполнителя в HTTP коды
func (h *PositionHandler) respondCloseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bot.ErrPositionNotFound):
		respondWithError(w, http.StatusNotFound, "position not found")
	case errors.Is(err, bot.ErrPositionBusy):
		respondWithError(w, http.StatusConflict, "position is busy, try again")
	case errors.Is(err, bot.ErrPositionNotOpen):
		respondWithError(w, http.StatusConflict, "position is not open")
	default:
		respondWithError(w, http.StatusBadGateway, err.Error())
	}
}

// openExposures собирает открытые позиции пользователя для проверки концентрации
func (h *PositionHandler) openExposures(userID int64) []guard.OpenExposure {
	var open []guard.OpenExposure
	for _, p := range h.registry.ListByUser(userID) {
		if !bot.IsOpen(p.State) {
			continue
		}
		price := p.LastPrice
		if price == 0 {
			price = p.EntryPrice
		}
		open = append(open, guard.OpenExposure{
			Symbol:  p.Symbol,
			SizeUSD: p.Quantity * price,
		})
	}
	return open
}
