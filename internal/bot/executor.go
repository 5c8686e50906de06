package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"positionbot/internal/exchange"
	"positionbot/internal/guard"
	"positionbot/internal/models"
	"positionbot/pkg/retry"
	"positionbot/pkg/utils"
)

var (
	// ErrPositionBusy - на позиции уже выполняется ордер-операция
	ErrPositionBusy = errors.New("position is locked by another operation")

	// ErrPositionNotOpen - позиция не в состоянии, допускающем ордера
	ErrPositionNotOpen = errors.New("position is not open")
)

// Notifier доставляет события пользователю (telegram, websocket, БД)
//
// Реализуется пакетом internal/service. Вызовы не блокируют:
// отправка асинхронная, переполненная очередь дропает событие.
type Notifier interface {
	Notify(n *models.Notification)
}

// TradeStore пишет завершённые сделки в БД
type TradeStore interface {
	SaveTrade(ctx context.Context, trade *models.TradeRecord) error
}

// ReevalStore пишет append-only журнал пересмотров позиций
type ReevalStore interface {
	Append(ctx context.Context, rec *models.ReevaluationRecord) error
}

// Executor - единственная точка отправки ордеров
//
// Все закрытия и уменьшения позиций идут через него: блокировка
// позиции, переход state machine, retry с backoff'ом, circuit breaker
// на биржу, запись сделки и дневного PNL, уведомление. Монитор и API
// не трогают биржу напрямую.
type Executor struct {
	exch     exchange.Exchange
	registry *Registry
	locks    *LockManager
	daily    *guard.DailyLossTracker
	trades   TradeStore
	reevals  ReevalStore
	notifier Notifier
	breaker  *retry.CircuitBreaker
	retryCfg retry.Config

	// capitalOf возвращает капитал пользователя для дневных лимитов.
	// Подставляется из сервиса настроек при сборке приложения.
	capitalOf func(userID int64) float64
}

// NewExecutor создаёт исполнитель ордеров
func NewExecutor(exch exchange.Exchange, registry *Registry, locks *LockManager,
	daily *guard.DailyLossTracker, trades TradeStore, notifier Notifier) *Executor {

	return &Executor{
		exch:     exch,
		registry: registry,
		locks:    locks,
		daily:    daily,
		trades:   trades,
		notifier: notifier,
		breaker:  retry.NewCircuitBreaker(exch.GetName(), retry.DefaultCircuitConfig()),
		retryCfg: retry.AggressiveConfig(),
	}
}

// SetCapitalFunc задаёт источник капитала пользователя для дневных лимитов
func (e *Executor) SetCapitalFunc(fn func(userID int64) float64) {
	e.capitalOf = fn
}

// SetReevalStore задаёт журнал пересмотров (опционален, nil - без аудита)
func (e *Executor) SetReevalStore(store ReevalStore) {
	e.reevals = store
}

// OpenRequest - параметры открытия позиции (после одобрения риск-гейтом)
type OpenRequest struct {
	UserID       int64
	Symbol       string
	Side         string // long, short
	Quantity     float64
	Leverage     int
	StopLoss     float64
	TakeProfit   float64
	MaxHoldHours float64
	PartialTP    []models.PartialTPLevel
	Origin       string // пустой = PositionOriginEngine
}

// OpenPosition размещает входной ордер и регистрирует позицию
//
// Блокировка берётся по паре (user, symbol) - так открытие не может
// гоняться ни со вторым открытием того же символа, ни с закрытием.
// Повторное открытие при живой позиции отклоняется с ErrPositionExists.
func (e *Executor) OpenPosition(ctx context.Context, req OpenRequest) (*models.Position, error) {
	key := PositionKey(req.UserID, req.Symbol)
	if !e.locks.TryAcquire(key, "open") {
		return nil, ErrPositionBusy
	}
	defer e.locks.Release(key, "open")

	if existing, ok := e.registry.FindOpen(req.UserID, req.Symbol); ok {
		return nil, fmt.Errorf("open %s: position %s already open: %w",
			req.Symbol, existing.ID, ErrPositionExists)
	}

	orderSide := exchange.SideBuy
	if req.Side == models.SideShort {
		orderSide = exchange.SideSell
	}

	order, err := e.placeOrder(ctx, "open", req.Symbol, func(ctx context.Context, linkID string) (*exchange.Order, error) {
		return e.exch.PlaceMarketOrder(ctx, req.Symbol, orderSide, req.Quantity, linkID)
	})
	if err != nil {
		e.notifyError(req.UserID, nil, fmt.Sprintf("не удалось открыть позицию %s: %v", req.Symbol, err))
		return nil, fmt.Errorf("open %s: %w", req.Symbol, err)
	}

	origin := req.Origin
	if origin == "" {
		origin = models.PositionOriginEngine
	}

	now := time.Now().UTC()
	p := &models.Position{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		EntryPrice:       order.AvgFillPrice,
		Quantity:         order.FilledQty,
		OriginalQuantity: order.FilledQty,
		Leverage:         req.Leverage,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		PartialTPLevels:  req.PartialTP,
		HighestPrice:     order.AvgFillPrice,
		LowestPrice:      order.AvgFillPrice,
		State:            models.PositionStateActive,
		OpenedAt:         now,
		MaxHoldHours:     req.MaxHoldHours,
		LastPrice:        order.AvgFillPrice,
		Origin:           origin,
	}

	if err := e.registry.Add(p); err != nil {
		// Ордер уже исполнен - позицию нельзя потерять
		utils.Log.Errorw("position registered twice", "id", p.ID, "error", err)
		return nil, err
	}

	e.notify(&models.Notification{
		Type:       models.NotificationTypeOpen,
		Severity:   models.SeverityInfo,
		UserID:     req.UserID,
		PositionID: &p.ID,
		Message: fmt.Sprintf("Открыта %s позиция %s: qty %.6f по %.4f",
			req.Side, req.Symbol, order.FilledQty, order.AvgFillPrice),
	})
	return p, nil
}

// ClosePosition полностью закрывает позицию
//
// owner помечает блокировку (monitor, api, recovery). Если позиция
// уже занята другой операцией, возвращается ErrPositionBusy - монитор
// просто попробует на следующем тике.
func (e *Executor) ClosePosition(ctx context.Context, positionID, reason, owner string) (*models.TradeRecord, error) {
	return e.closePosition(ctx, positionID, reason, owner, e.retryCfg)
}

// AutoClose закрывает позицию у зоны ликвидации
//
// Агрессивный retry (500ms, 1s, 2s); если полное закрытие так и не
// прошло - аварийно сокращает позицию наполовину, чтобы отодвинуть
// цену ликвидации.
func (e *Executor) AutoClose(ctx context.Context, positionID, owner string) (*models.TradeRecord, error) {
	trade, err := e.closePosition(ctx, positionID, models.CloseReasonLiquidation, owner, retry.AutoCloseConfig())
	if err == nil {
		AutoClosesTotal.WithLabelValues("success").Inc()
		return trade, nil
	}
	if errors.Is(err, ErrPositionBusy) || errors.Is(err, ErrPositionNotOpen) {
		return nil, err
	}

	utils.Log.Errorw("auto-close failed, falling back to emergency reduce",
		"position", positionID, "error", err)

	p, gerr := e.registry.Get(positionID)
	if gerr != nil {
		return nil, err
	}
	if _, rerr := e.ReducePosition(ctx, positionID, p.Quantity*0.5, models.CloseReasonEmergency, owner); rerr != nil {
		AutoClosesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("emergency reduce after failed auto-close: %w", rerr)
	}
	AutoClosesTotal.WithLabelValues("emergency").Inc()
	return nil, err
}

func (e *Executor) closePosition(ctx context.Context, positionID, reason, owner string, cfg retry.Config) (*models.TradeRecord, error) {
	p, err := e.registry.Get(positionID)
	if err != nil {
		return nil, err
	}

	key := PositionKey(p.UserID, p.Symbol)
	if !e.locks.TryAcquire(key, owner) {
		return nil, ErrPositionBusy
	}
	defer e.locks.Release(key, owner)

	// Состояние перечитывается под блокировкой: позицию могли закрыть,
	// пока мы ждали
	p, err = e.registry.Get(positionID)
	if err != nil {
		return nil, err
	}
	if !IsOpen(p.State) {
		return nil, ErrPositionNotOpen
	}

	if err := e.registry.Update(positionID, func(p *models.Position) error {
		return Transition(p, models.PositionStateClosing)
	}); err != nil {
		return nil, err
	}

	order, err := e.placeOrderWithConfig(ctx, "close", p.Symbol, cfg, func(ctx context.Context, linkID string) (*exchange.Order, error) {
		return e.exch.ClosePosition(ctx, p.Symbol, p.Side, p.Quantity, linkID)
	})
	if err != nil {
		e.failPosition(positionID, p.UserID, fmt.Sprintf("закрытие %s не прошло: %v", p.Symbol, err))
		return nil, fmt.Errorf("close %s: %w", p.Symbol, err)
	}

	pnl := realizedPnl(p.Side, p.EntryPrice, order.AvgFillPrice, order.FilledQty)
	trade := e.recordTrade(ctx, p, order, pnl, reason)
	e.recordReeval(ctx, p, models.ReevalTypeForClose(reason), order.AvgFillPrice, reason)

	if err := e.registry.Update(positionID, func(p *models.Position) error {
		p.Quantity = 0
		return Transition(p, models.PositionStateClosed)
	}); err != nil {
		utils.Log.Errorw("close transition failed", "position", positionID, "error", err)
	}

	RecordClose(reason, pnl)
	e.notifyClose(p, order, pnl, reason)
	return trade, nil
}

// ReducePosition частично закрывает позицию
//
// qty - закрываемое количество в базовой валюте. Остаток меньше шага
// лота закрывается целиком.
func (e *Executor) ReducePosition(ctx context.Context, positionID string, qty float64, reason, owner string) (*models.TradeRecord, error) {
	p, err := e.registry.Get(positionID)
	if err != nil {
		return nil, err
	}

	key := PositionKey(p.UserID, p.Symbol)
	if !e.locks.TryAcquire(key, owner) {
		return nil, ErrPositionBusy
	}
	defer e.locks.Release(key, owner)

	p, err = e.registry.Get(positionID)
	if err != nil {
		return nil, err
	}
	if p.State != models.PositionStateActive {
		return nil, ErrPositionNotOpen
	}
	if qty <= 0 || qty > p.Quantity {
		return nil, fmt.Errorf("reduce qty %.8f out of range (position has %.8f)", qty, p.Quantity)
	}

	if err := e.registry.Update(positionID, func(p *models.Position) error {
		return Transition(p, models.PositionStateReducing)
	}); err != nil {
		return nil, err
	}

	order, err := e.placeOrder(ctx, "reduce", p.Symbol, func(ctx context.Context, linkID string) (*exchange.Order, error) {
		return e.exch.ClosePosition(ctx, p.Symbol, p.Side, qty, linkID)
	})
	if err != nil {
		e.failPosition(positionID, p.UserID, fmt.Sprintf("частичное закрытие %s не прошло: %v", p.Symbol, err))
		return nil, fmt.Errorf("reduce %s: %w", p.Symbol, err)
	}

	pnl := realizedPnl(p.Side, p.EntryPrice, order.AvgFillPrice, order.FilledQty)
	trade := e.recordTrade(ctx, p, order, pnl, reason)
	e.recordReeval(ctx, p, models.ReevalPartialTP, order.AvgFillPrice, reason)

	closedAll := false
	if err := e.registry.Update(positionID, func(p *models.Position) error {
		p.Quantity -= order.FilledQty
		if p.Quantity <= 1e-12 {
			p.Quantity = 0
			closedAll = true
			if err := Transition(p, models.PositionStateClosing); err != nil {
				return err
			}
			return Transition(p, models.PositionStateClosed)
		}
		return Transition(p, models.PositionStateActive)
	}); err != nil {
		utils.Log.Errorw("reduce transition failed", "position", positionID, "error", err)
	}

	if closedAll {
		RecordClose(reason, pnl)
	} else {
		ClosesTotal.WithLabelValues(models.CloseReasonPartialTP).Inc()
		PnlTotal.Add(pnl)
	}
	e.notify(&models.Notification{
		Type:       models.NotificationTypePartialTP,
		Severity:   models.SeverityInfo,
		UserID:     p.UserID,
		PositionID: &p.ID,
		Message: fmt.Sprintf("Частично закрыта %s: qty %.6f по %.4f, PNL %+.2f (%s)",
			p.Symbol, order.FilledQty, order.AvgFillPrice, pnl, reason),
	})
	return trade, nil
}

// CircuitState возвращает текущее состояние circuit breaker'а биржи
func (e *Executor) CircuitState() retry.CircuitState {
	return e.breaker.State()
}

// ============ внутреннее ============

func (e *Executor) placeOrder(ctx context.Context, operation, symbol string,
	fn func(ctx context.Context, linkID string) (*exchange.Order, error)) (*exchange.Order, error) {

	return e.placeOrderWithConfig(ctx, operation, symbol, e.retryCfg, fn)
}

// placeOrderWithConfig - retry поверх circuit breaker'а.
// Breaker считает каждый фактический запрос к бирже, retry
// пробует поверх (открытый breaker - Permanent, не retry'ится).
//
// Все попытки идут с одним клиентским linkID; после неудавшейся
// попытки статус ордера сверяется по linkID ПЕРЕД повтором - timeout
// не означает, что ордер не исполнился, и слепой повтор удвоил бы
// позицию.
func (e *Executor) placeOrderWithConfig(ctx context.Context, operation, symbol string, cfg retry.Config,
	fn func(ctx context.Context, linkID string) (*exchange.Order, error)) (*exchange.Order, error) {

	started := time.Now()
	linkID := uuid.NewString()
	attempted := false
	cfg.RetryIf = retry.IsRetryable // 4xx биржи и открытый breaker не retry'ятся
	order, err := retry.DoWithResult(ctx, func() (*exchange.Order, error) {
		if attempted {
			if found, ferr := e.exch.GetOrderByLink(ctx, symbol, linkID); ferr == nil && orderWentThrough(found) {
				utils.Log.Warnw("lost order response recovered via status check",
					"symbol", symbol, "operation", operation, "link_id", linkID)
				return found, nil
			}
		}
		var order *exchange.Order
		cerr := e.breaker.Execute(func() error {
			var ferr error
			order, ferr = fn(ctx, linkID)
			return ferr
		})
		if cerr != nil {
			attempted = true
		}
		if errors.Is(cerr, retry.ErrCircuitOpen) {
			return nil, retry.Permanent(cerr)
		}
		return order, cerr
	}, cfg)

	e.publishCircuitState()

	if err != nil {
		OrderFailures.WithLabelValues(e.exch.GetName(), operation).Inc()
		return nil, err
	}
	RecordOrderLatency(e.exch.GetName(), operation, float64(time.Since(started).Milliseconds()))
	return order, nil
}

// orderWentThrough - ордер реально дошёл до биржи и исполнился
// (хотя бы частично), повторять его нельзя
func orderWentThrough(order *exchange.Order) bool {
	if order == nil {
		return false
	}
	return order.Status == exchange.OrderStatusFilled ||
		order.Status == exchange.OrderStatusPartial
}

func (e *Executor) publishCircuitState() {
	var v int
	switch e.breaker.State() {
	case retry.CircuitHalfOpen:
		v = 1
	case retry.CircuitOpen:
		v = 2
	}
	UpdateCircuitState(e.exch.GetName(), v)
}

// recordTrade пишет сделку в БД и дневной трекер
func (e *Executor) recordTrade(ctx context.Context, p *models.Position, order *exchange.Order, pnl float64, reason string) *models.TradeRecord {
	now := time.Now().UTC()
	trade := &models.TradeRecord{
		PositionID: p.ID,
		UserID:     p.UserID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Quantity:   order.FilledQty,
		EntryPrice: p.EntryPrice,
		ExitPrice:  order.AvgFillPrice,
		Pnl:        pnl,
		Reason:     reason,
		CreatedAt:  now,
		ClosedAt:   &now,
	}
	if e.trades != nil {
		if err := e.trades.SaveTrade(ctx, trade); err != nil {
			// Сделка уже исполнена на бирже - ошибку БД только логируем
			utils.Log.Errorw("trade save failed", "position", p.ID, "error", err)
		}
	}
	if e.daily != nil {
		capital := 0.0
		if e.capitalOf != nil {
			capital = e.capitalOf(p.UserID)
		}
		e.daily.RecordTrade(p.UserID, pnl, capital)
	}
	return trade
}

// recordReeval пишет запись журнала пересмотров для закрытия/сокращения.
// Ошибка журнала не откатывает сделку - только лог.
func (e *Executor) recordReeval(ctx context.Context, p *models.Position, typ string, price float64, reason string) {
	if e.reevals == nil {
		return
	}
	rec := &models.ReevaluationRecord{
		PositionID:    p.ID,
		UserID:        p.UserID,
		Symbol:        p.Symbol,
		Type:          typ,
		OldStopLoss:   p.StopLoss,
		NewStopLoss:   p.StopLoss,
		OldTakeProfit: p.TakeProfit,
		NewTakeProfit: p.TakeProfit,
		Price:         price,
		ProfitPct:     p.ProfitPct(price),
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.reevals.Append(ctx, rec); err != nil {
		utils.Log.Errorw("reevaluation append failed", "position", p.ID, "type", typ, "error", err)
	}
}

// failPosition переводит позицию в error и шлёт уведомление
func (e *Executor) failPosition(positionID string, userID int64, msg string) {
	if err := e.registry.Update(positionID, func(p *models.Position) error {
		return Transition(p, models.PositionStateError)
	}); err != nil {
		utils.Log.Errorw("error transition failed", "position", positionID, "error", err)
	}
	e.notifyError(userID, &positionID, msg)
}

func (e *Executor) notifyClose(p *models.Position, order *exchange.Order, pnl float64, reason string) {
	notifType := models.NotificationTypeClose
	severity := models.SeverityInfo
	switch reason {
	case models.CloseReasonStopLoss:
		notifType = models.NotificationTypeSL
		severity = models.SeverityWarn
	case models.CloseReasonTakeProfit:
		notifType = models.NotificationTypeTP
	case models.CloseReasonLiquidation:
		notifType = models.NotificationTypeLiquidation
		severity = models.SeverityError
	}
	e.notify(&models.Notification{
		Type:       notifType,
		Severity:   severity,
		UserID:     p.UserID,
		PositionID: &p.ID,
		Message: fmt.Sprintf("Закрыта %s позиция %s по %.4f, PNL %+.2f (%s)",
			p.Side, p.Symbol, order.AvgFillPrice, pnl, reason),
	})
}

func (e *Executor) notifyError(userID int64, positionID *string, msg string) {
	e.notify(&models.Notification{
		Type:       models.NotificationTypeError,
		Severity:   models.SeverityError,
		UserID:     userID,
		PositionID: positionID,
		Message:    msg,
	})
}

func (e *Executor) notify(n *models.Notification) {
	if e.notifier == nil {
		return
	}
	n.Timestamp = time.Now().UTC()
	e.notifier.Notify(n)
}

// realizedPnl считает реализованный PNL закрытого количества
func realizedPnl(side string, entry, exit, qty float64) float64 {
	if side == models.SideLong {
		return (exit - entry) * qty
	}
	return (entry - exit) * qty
}
