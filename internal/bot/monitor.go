package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"positionbot/internal/config"
	"positionbot/internal/exchange"
	"positionbot/internal/models"
	"positionbot/internal/risk"
	"positionbot/pkg/utils"
)

// SettingsProvider отдаёт риск-настройки пользователя (с кэшем)
//
// Реализуется пакетом internal/service. Настройки периодически
// перечитываются из БД, поэтому меняются без рестарта.
type SettingsProvider interface {
	Settings(ctx context.Context, userID int64) (*models.UserSettings, error)
}

// Monitor - цикл мониторинга позиций
//
// Каждый тик: снапшот реестра, батч цен, параллельная проверка каждой
// активной позиции воркерами. Порядок проверок фиксирован, первая
// сработавшая терминальная проверка завершает обработку позиции в
// этом тике:
//
//	цена -> авто-назначение SL/TP -> time exit -> частичные TP ->
//	break-even -> trailing/подтяжка -> динамический пересмотр ->
//	ликвидация -> SL -> TP
//
// Time exit идёт раньше ценовых триггеров: засидевшаяся позиция
// закрывается по возрасту, не дожидаясь касания уровней. SL/TP
// проверяются последними - по уровням, уже подтянутым этим же тиком.
//
// Ордера идут только через Executor, который сам берёт блокировку
// позиции; занятую позицию монитор пропускает до следующего тика.
type Monitor struct {
	cfg      config.MonitorConfig
	riskCfg  risk.Params
	registry *Registry
	locks    *LockManager
	exec     *Executor
	exch     exchange.Exchange
	settings SettingsProvider
	notifier Notifier
	reevals  ReevalStore

	// Кэш торговых лимитов по символу (шаг цены для trailing)
	limitsMu sync.RWMutex
	limits   map[string]*exchange.Limits

	// Время последнего динамического пересмотра по позиции: ATR-пересчёт
	// уровней идёт реже тика (dynamicFreq), не каждый тик
	dynMu       sync.Mutex
	lastDynamic map[string]time.Time

	// Счётчики для API статистики
	ticks      int64
	checksRun  int64
	closesDone int64

	// для тестов
	now func() time.Time
}

// NewMonitor создаёт монитор позиций
func NewMonitor(cfg config.MonitorConfig, riskCfg risk.Params, registry *Registry,
	locks *LockManager, exec *Executor, exch exchange.Exchange,
	settings SettingsProvider, notifier Notifier) *Monitor {

	riskCfg.Normalize()
	return &Monitor{
		cfg:         cfg,
		riskCfg:     riskCfg,
		registry:    registry,
		locks:       locks,
		exec:        exec,
		exch:        exch,
		settings:    settings,
		notifier:    notifier,
		limits:      make(map[string]*exchange.Limits),
		lastDynamic: make(map[string]time.Time),
		now:         time.Now,
	}
}

// SetReevalStore подключает журнал пересмотров уровней
func (m *Monitor) SetReevalStore(store ReevalStore) {
	m.reevals = store
}

// Run запускает цикл мониторинга до отмены контекста
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	utils.Log.Infow("monitor started",
		"tick", m.cfg.TickInterval, "workers", m.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			utils.Log.Infow("monitor stopped", "ticks", atomic.LoadInt64(&m.ticks))
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick выполняет один проход мониторинга
func (m *Monitor) Tick(ctx context.Context) {
	started := m.now()
	atomic.AddInt64(&m.ticks, 1)

	positions := m.registry.SnapshotOpen()
	if len(positions) == 0 {
		return
	}

	prices := m.fetchPrices(ctx, positions)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, p := range positions {
		if p.State != models.PositionStateActive {
			continue // reducing/closing уже в работе у исполнителя
		}
		price, ok := prices[p.Symbol]
		if !ok {
			continue
		}
		id := p.ID
		g.Go(func() error {
			m.checkPosition(gctx, id, price)
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		utils.Log.Errorw("monitor tick failed", "error", err)
	}

	// Зависшие блокировки снимаются здесь же
	if removed := m.locks.CleanupExpired(m.cfg.LockMaxAge); removed > 0 {
		utils.Log.Warnw("stale position locks released", "count", removed)
	}

	m.pruneDynamic(positions)

	TickDuration.Observe(float64(time.Since(started).Milliseconds()))
}

// fetchPrices батчем запрашивает цены всех символов снапшота
func (m *Monitor) fetchPrices(ctx context.Context, positions []*models.Position) map[string]float64 {
	symbols := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		symbols[p.Symbol] = struct{}{}
	}

	var mu sync.Mutex
	prices := make(map[string]float64, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.PriceFetchLimit)
	for symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			price, err := m.exch.GetPrice(gctx, symbol)
			if err != nil {
				PriceFetchErrors.WithLabelValues(symbol).Inc()
				utils.Log.Warnw("price fetch failed", "symbol", symbol, "error", err)
				return nil // остальные символы проверяем
			}
			mu.Lock()
			prices[symbol] = price
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // воркеры ошибок не возвращают
	return prices
}

// checkPosition выполняет все проверки одной позиции
func (m *Monitor) checkPosition(ctx context.Context, id string, price float64) {
	atomic.AddInt64(&m.checksRun, 1)

	// 1. Обновление цены и экстремумов
	RecordCheck("price")
	if err := m.registry.Update(id, func(p *models.Position) error {
		p.LastPrice = price
		p.LastCheckedAt = m.now().UTC()
		if price > p.HighestPrice {
			p.HighestPrice = price
		}
		if p.LowestPrice == 0 || price < p.LowestPrice {
			p.LowestPrice = price
		}
		return nil
	}); err != nil {
		return // позиция исчезла между снапшотом и проверкой
	}

	p, err := m.registry.Get(id)
	if err != nil || p.State != models.PositionStateActive {
		return
	}

	settings := m.userSettings(ctx, p.UserID)

	// 2. Авто-назначение уровней: позиция без SL или TP (ручная,
	// подхваченная с биржи) получает защиту в этом же тике
	if p.StopLoss <= 0 || p.TakeProfit <= 0 {
		m.autoAssignStops(ctx, p, price, settings)
		if p, err = m.registry.Get(id); err != nil || p.State != models.PositionStateActive {
			return
		}
	}

	// 3. Time exit - раньше ценовых триггеров
	RecordCheck("time_exit")
	if m.checkTimeExit(ctx, p, price, settings) {
		return
	}

	// 4. Частичные тейки
	if settings.PartialTPEnabled && m.checkPartialTP(ctx, p, price) {
		return // после частичного закрытия позиция изменилась, остальное на следующем тике
	}

	// 5. Break-even
	RecordCheck("break_even")
	m.checkBreakEven(ctx, p, price)

	// 6. Trailing stop либо подтяжка стопа на большом профите
	if settings.TrailingEnabled {
		RecordCheck("trailing")
		m.checkTrailing(ctx, p, price)
	} else {
		m.tightenStop(ctx, p, price)
	}

	// 7. Динамический пересмотр SL/TP по ATR (реже тика)
	m.checkDynamicStops(ctx, p, price)

	// 8. Контроль ликвидации (терминальная при авто-закрытии)
	if m.checkLiquidation(ctx, p, price) {
		return
	}

	// Уровни могли подтянуться выше, касание проверяется по свежим
	if p, err = m.registry.Get(id); err != nil || p.State != models.PositionStateActive {
		return
	}

	// 9. Stop Loss
	RecordCheck("stop_loss")
	if stopHit(p, price) {
		m.close(ctx, p, models.CloseReasonStopLoss)
		return
	}

	// 10. Take Profit
	RecordCheck("take_profit")
	if targetHit(p, price) {
		m.close(ctx, p, models.CloseReasonTakeProfit)
	}
}

// checkLiquidation следит за дистанцией до цены ликвидации
//
// warning/high - одно уведомление на смену tier'а, без повторов на
// каждом тике, пока позиция остаётся в том же tier'е;
// critical/extreme - одна попытка авто-закрытия с аварийным
// сокращением наполовину при неудаче.
func (m *Monitor) checkLiquidation(ctx context.Context, p *models.Position, price float64) bool {
	if p.IsSpot() {
		return false
	}
	RecordCheck("liquidation")

	liq := risk.LiquidationPrice(p.EntryPrice, p.Side, p.Leverage, m.riskCfg.MaintenanceMargin)
	dist := risk.LiquidationDistancePct(price, liq, p.Side)
	tier := risk.ClassifyLiquidation(dist)

	if risk.NeedsAutoClose(tier) {
		if p.AutoCloseAttempted {
			return false // уже пытались, больше не дёргаем биржу
		}
		if err := m.registry.Update(p.ID, func(p *models.Position) error {
			p.AutoCloseAttempted = true
			return nil
		}); err != nil {
			return false
		}

		LiquidationWarnings.WithLabelValues(string(tier)).Inc()
		utils.Log.Warnw("auto-closing position near liquidation",
			"position", p.ID, "symbol", p.Symbol, "distance_pct", dist, "tier", tier)

		if _, err := m.exec.AutoClose(ctx, p.ID, "monitor"); err != nil {
			utils.Log.Errorw("auto-close failed", "position", p.ID, "error", err)
		}
		atomic.AddInt64(&m.closesDone, 1)
		return true
	}

	if string(tier) == p.LiquidationTier {
		return false // tier не менялся, уведомление уже было
	}
	if err := m.registry.Update(p.ID, func(p *models.Position) error {
		p.LiquidationTier = string(tier)
		if risk.NeedsWarning(tier) {
			p.LiquidationWarnings++
		}
		return nil
	}); err != nil {
		return false
	}

	if risk.NeedsWarning(tier) {
		LiquidationWarnings.WithLabelValues(string(tier)).Inc()
		m.notify(&models.Notification{
			Type:       models.NotificationTypeLiquidation,
			Severity:   models.SeverityWarn,
			UserID:     p.UserID,
			PositionID: &p.ID,
			Message:    "Позиция " + p.Symbol + " приближается к цене ликвидации",
			Meta: map[string]interface{}{
				"distance_pct":      dist,
				"liquidation_price": liq,
				"tier":              string(tier),
			},
		})
	}
	return false
}

// checkPartialTP исполняет первый несработавший уровень частичной фиксации
//
// Уровни проверяются по возрастанию триггера, каждый срабатывает не
// более одного раза. Количество считается от ИСХОДНОГО размера. После
// первого уровня стоп двигается в break-even, после следующих -
// фиксирует нарастающую долю профита.
func (m *Monitor) checkPartialTP(ctx context.Context, p *models.Position, price float64) bool {
	if len(p.PartialTPLevels) == 0 {
		return false
	}
	RecordCheck("partial_tp")

	profitPct := p.ProfitPct(price)
	levelIdx := -1
	for i, level := range p.PartialTPLevels {
		if !level.Executed && profitPct >= level.TriggerPct {
			levelIdx = i
			break
		}
	}
	if levelIdx < 0 {
		return false
	}

	level := p.PartialTPLevels[levelIdx]
	qty := p.OriginalQuantity * level.ClosePct
	if qty > p.Quantity {
		qty = p.Quantity
	}
	if qty <= 0 {
		return false
	}

	if _, err := m.exec.ReducePosition(ctx, p.ID, qty, models.CloseReasonPartialTP, "monitor"); err != nil {
		if err != ErrPositionBusy {
			utils.Log.Errorw("partial TP failed", "position", p.ID, "level", levelIdx, "error", err)
		}
		return false
	}
	atomic.AddInt64(&m.closesDone, 1)

	// Уровень отмечается только после успешного ордера
	oldSL := p.StopLoss
	var after models.Position
	if err := m.registry.Update(p.ID, func(p *models.Position) error {
		if levelIdx < len(p.PartialTPLevels) {
			p.PartialTPLevels[levelIdx].Executed = true
		}
		m.lockInProfit(p, price, levelIdx)
		after = *p
		return nil
	}); err != nil {
		if err != ErrPositionNotFound {
			utils.Log.Errorw("partial TP bookkeeping failed", "position", p.ID, "error", err)
		}
		return true
	}
	if after.StopLoss != oldSL {
		m.recordReeval(ctx, &after, models.ReevalTrailingUpdate, oldSL, after.TakeProfit, price, "partial profit lock")
	}
	return true
}

// lockInProfit двигает стоп после сработавшего уровня частичного тейка.
// Вызывается внутри Registry.Update.
func (m *Monitor) lockInProfit(p *models.Position, price float64, levelIdx int) {
	if levelIdx == 0 {
		applyBreakEven(p)
		return
	}

	// Уровень 1+: фиксируем 75%, 100%... профита, максимум 90%
	fraction := 0.5 + float64(levelIdx)*0.25
	if fraction > 0.90 {
		fraction = 0.90
	}
	candidate := p.EntryPrice + (price-p.EntryPrice)*fraction
	if p.Side == models.SideShort {
		candidate = p.EntryPrice - (p.EntryPrice-price)*fraction
	}
	moveStopMonotonic(p, candidate)
}

// checkBreakEven переводит стоп в безубыток на +1% профита
func (m *Monitor) checkBreakEven(ctx context.Context, p *models.Position, price float64) {
	if p.BreakEvenApplied || p.ProfitPct(price) < 1.0 {
		return
	}
	oldSL := p.StopLoss
	var after models.Position
	if err := m.registry.Update(p.ID, func(p *models.Position) error {
		applyBreakEven(p)
		after = *p
		return nil
	}); err != nil {
		return
	}
	if after.StopLoss != oldSL {
		utils.Log.Infow("stop moved to break-even", "position", p.ID, "symbol", p.Symbol)
		m.recordReeval(ctx, &after, models.ReevalTrailingUpdate, oldSL, after.TakeProfit, price, "break-even")
	}
}

// applyBreakEven ставит стоп на вход с буфером 0.1% (на комиссии).
// Вызывается внутри Registry.Update.
func applyBreakEven(p *models.Position) {
	if p.BreakEvenApplied {
		return
	}
	candidate := p.EntryPrice * 1.001
	if p.Side == models.SideShort {
		candidate = p.EntryPrice * 0.999
	}
	// Стоп мог уже стоять выше безубытка (trailing, авто-назначение) -
	// двигать тогда нечего, но безубыток зафиксирован
	moveStopMonotonic(p, candidate)
	p.BreakEvenApplied = true
}

// checkTrailing активирует и двигает трейлинг-стоп
//
// Активация на +1% профита. Дистанция ступенчатая от профита, стоп
// двигается только в сторону прибыли и держится минимум в 0.5% от
// текущей цены.
func (m *Monitor) checkTrailing(ctx context.Context, p *models.Position, price float64) {
	profitPct := p.ProfitPct(price)
	if !p.TrailingActive && profitPct < 1.0 {
		return
	}

	oldSL := p.StopLoss
	activated := false
	moved := false
	var after models.Position
	if err := m.registry.Update(p.ID, func(p *models.Position) error {
		if !p.TrailingActive {
			p.TrailingActive = true
			activated = true
		}
		p.TrailingDistancePct = risk.TieredTrailingDistance(profitPct)

		candidate := p.HighestPrice * (1 - p.TrailingDistancePct/100)
		maxStop := price * (1 - 0.005) // минимум 0.5% до цены
		if p.Side == models.SideShort {
			candidate = p.LowestPrice * (1 + p.TrailingDistancePct/100)
			maxStop = price * (1 + 0.005)
			if candidate < maxStop {
				candidate = maxStop
			}
		} else if candidate > maxStop {
			candidate = maxStop
		}
		candidate = m.roundToPriceStep(p.Symbol, candidate)
		moved = moveStopMonotonic(p, candidate)
		after = *p
		return nil
	}); err != nil {
		return
	}

	if activated {
		m.notify(&models.Notification{
			Type:       models.NotificationTypeTrailing,
			Severity:   models.SeverityInfo,
			UserID:     p.UserID,
			PositionID: &p.ID,
			Message:    "Трейлинг-стоп активирован по " + p.Symbol,
		})
	}
	if moved {
		utils.Log.Debugw("trailing stop moved", "position", p.ID, "symbol", p.Symbol)
		m.recordReeval(ctx, &after, models.ReevalTrailingUpdate, oldSL, after.TakeProfit, price, "trailing")
	}
}

// tightenStop фиксирует половину профита на +5% без трейлинга
func (m *Monitor) tightenStop(ctx context.Context, p *models.Position, price float64) {
	if p.ProfitPct(price) < 5.0 {
		return
	}
	oldSL := p.StopLoss
	moved := false
	var after models.Position
	m.registry.Update(p.ID, func(p *models.Position) error { //nolint:errcheck
		candidate := p.EntryPrice + (price-p.EntryPrice)*0.5
		if p.Side == models.SideShort {
			candidate = p.EntryPrice - (p.EntryPrice-price)*0.5
		}
		moved = moveStopMonotonic(p, candidate)
		after = *p
		return nil
	})
	if moved {
		m.recordReeval(ctx, &after, models.ReevalTrailingUpdate, oldSL, after.TakeProfit, price, "profit lock")
	}
}

// checkDynamicStops пересчитывает SL/TP по свежему ATR
//
// Пересчёт идёт раз в dynamicFreq, не каждый тик: запрашивает свечи и
// двигает уровни только в сторону ужесточения - стоп ближе к цене,
// тейк ближе к цене. Расширить уровни пересчёт не может.
func (m *Monitor) checkDynamicStops(ctx context.Context, p *models.Position, price float64) {
	if !m.dynamicDue(p.ID) {
		return
	}
	RecordCheck("dynamic")

	klines, err := m.exch.GetKlines(ctx, p.Symbol, "1h", m.riskCfg.ATRPeriod+1)
	if err != nil {
		utils.Log.Warnw("dynamic reevaluation skipped: klines unavailable",
			"position", p.ID, "symbol", p.Symbol, "error", err)
		return
	}
	targets, err := risk.DynamicStops(price, p.Side, klines, m.riskCfg)
	if err != nil {
		utils.Log.Debugw("dynamic reevaluation skipped", "position", p.ID, "error", err)
		return
	}

	oldSL, oldTP := p.StopLoss, p.TakeProfit
	slMoved := false
	tpMoved := false
	var after models.Position
	if err := m.registry.Update(p.ID, func(p *models.Position) error {
		slMoved = moveStopMonotonic(p, targets.StopLoss)
		tpMoved = tightenTargetMonotonic(p, targets.TakeProfit, price)
		after = *p
		return nil
	}); err != nil {
		return
	}
	if !slMoved && !tpMoved {
		return
	}

	utils.Log.Infow("levels tightened by ATR reevaluation",
		"position", p.ID, "symbol", p.Symbol,
		"stop_loss", after.StopLoss, "take_profit", after.TakeProfit,
		"atr_pct", targets.ATRPct)
	m.recordReeval(ctx, &after, models.ReevalDynamicUpdate, oldSL, oldTP, price, "atr")
}

// autoAssignStops выставляет недостающие SL/TP
//
// Сначала по ATR, при недоступных свечах - фиксированный процент из
// настроек пользователя с поправкой на плечо. Заполняются только
// пустые уровни, выставленные руками не трогаются.
func (m *Monitor) autoAssignStops(ctx context.Context, p *models.Position, price float64, settings *models.UserSettings) {
	var sl, tp float64
	if klines, err := m.exch.GetKlines(ctx, p.Symbol, "1h", m.riskCfg.ATRPeriod+1); err == nil {
		if targets, derr := risk.DynamicStops(price, p.Side, klines, m.riskCfg); derr == nil {
			sl, tp = targets.StopLoss, targets.TakeProfit
		}
	}
	if sl <= 0 || tp <= 0 {
		pct := settings.RiskPerTradePct
		if pct <= 0 {
			pct = m.riskCfg.FixedRiskPct
		}
		// Якорь - текущая цена, не вход: уровень от входа у позиции,
		// ушедшей в профит, оказался бы сразу за ценой
		sl = risk.LeverageAdjustedStop(price, p.Side, pct, p.Leverage)
		tp = risk.LeverageAdjustedTarget(price, p.Side, pct*m.riskCfg.MinRiskReward, p.Leverage)
	}

	oldSL, oldTP := p.StopLoss, p.TakeProfit
	assigned := false
	var after models.Position
	if err := m.registry.Update(p.ID, func(p *models.Position) error {
		if p.StopLoss <= 0 && sl > 0 {
			p.StopLoss = sl
			assigned = true
		}
		if p.TakeProfit <= 0 && tp > 0 {
			p.TakeProfit = tp
			assigned = true
		}
		after = *p
		return nil
	}); err != nil || !assigned {
		return
	}

	utils.Log.Infow("missing levels auto-assigned",
		"position", p.ID, "symbol", p.Symbol,
		"stop_loss", after.StopLoss, "take_profit", after.TakeProfit)
	m.recordReeval(ctx, &after, models.ReevalDynamicUpdate, oldSL, oldTP, price, "auto-assign")
}

// checkTimeExit закрывает засидевшиеся позиции
//
// На MaxHoldHours закрывается только прибыльная позиция; на 2x
// MaxHoldHours - любая, принудительно. true = позиция ушла в закрытие.
func (m *Monitor) checkTimeExit(ctx context.Context, p *models.Position, price float64, settings *models.UserSettings) bool {
	maxHold := p.MaxHoldHours
	if maxHold <= 0 {
		maxHold = settings.MaxHoldHours
	}
	if maxHold <= 0 {
		maxHold = m.cfg.MaxHoldHours
	}

	age := p.Age(m.now()).Hours()
	switch {
	case age >= 2*maxHold:
		m.close(ctx, p, models.CloseReasonTimeForce)
		return true
	case age >= maxHold && p.ProfitPct(price) > 0:
		m.close(ctx, p, models.CloseReasonTimeExit)
		return true
	}
	return false
}

// dynamicDue проверяет и сдвигает таймер динамического пересмотра
func (m *Monitor) dynamicDue(id string) bool {
	freq := m.cfg.DynamicFreq
	if freq <= 0 {
		freq = time.Minute
	}

	m.dynMu.Lock()
	defer m.dynMu.Unlock()

	now := m.now()
	if last, ok := m.lastDynamic[id]; ok && now.Sub(last) < freq {
		return false
	}
	m.lastDynamic[id] = now
	return true
}

// pruneDynamic выбрасывает таймеры позиций, ушедших из реестра
func (m *Monitor) pruneDynamic(positions []*models.Position) {
	alive := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		alive[p.ID] = struct{}{}
	}

	m.dynMu.Lock()
	defer m.dynMu.Unlock()
	for id := range m.lastDynamic {
		if _, ok := alive[id]; !ok {
			delete(m.lastDynamic, id)
		}
	}
}

// recordReeval пишет запись в журнал пересмотров; ошибки только в лог
func (m *Monitor) recordReeval(ctx context.Context, p *models.Position, typ string,
	oldSL, oldTP, price float64, reason string) {

	if m.reevals == nil {
		return
	}
	rec := &models.ReevaluationRecord{
		PositionID:    p.ID,
		UserID:        p.UserID,
		Symbol:        p.Symbol,
		Type:          typ,
		OldStopLoss:   oldSL,
		NewStopLoss:   p.StopLoss,
		OldTakeProfit: oldTP,
		NewTakeProfit: p.TakeProfit,
		Price:         price,
		ProfitPct:     p.ProfitPct(price),
		Reason:        reason,
		CreatedAt:     m.now().UTC(),
	}
	if err := m.reevals.Append(ctx, rec); err != nil {
		utils.Log.Errorw("reevaluation record append failed",
			"position", p.ID, "type", typ, "error", err)
	}
}

func (m *Monitor) close(ctx context.Context, p *models.Position, reason string) {
	if _, err := m.exec.ClosePosition(ctx, p.ID, reason, "monitor"); err != nil {
		if err != ErrPositionBusy && err != ErrPositionNotOpen {
			utils.Log.Errorw("close failed", "position", p.ID, "reason", reason, "error", err)
		}
		return
	}
	atomic.AddInt64(&m.closesDone, 1)
}

// userSettings возвращает настройки пользователя или дефолты
func (m *Monitor) userSettings(ctx context.Context, userID int64) *models.UserSettings {
	if m.settings == nil {
		return models.DefaultUserSettings(userID)
	}
	s, err := m.settings.Settings(ctx, userID)
	if err != nil || s == nil {
		return models.DefaultUserSettings(userID)
	}
	return s
}

// roundToPriceStep округляет цену вниз к шагу тика символа
func (m *Monitor) roundToPriceStep(symbol string, price float64) float64 {
	m.limitsMu.RLock()
	limits, ok := m.limits[symbol]
	m.limitsMu.RUnlock()
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		fetched, err := m.exch.GetLimits(ctx, symbol)
		if err != nil {
			return price
		}
		m.limitsMu.Lock()
		m.limits[symbol] = fetched
		m.limitsMu.Unlock()
		limits = fetched
	}
	if limits.PriceStep <= 0 {
		return price
	}
	steps := float64(int64(price / limits.PriceStep))
	return steps * limits.PriceStep
}

func (m *Monitor) notify(n *models.Notification) {
	if m.notifier == nil {
		return
	}
	n.Timestamp = m.now().UTC()
	m.notifier.Notify(n)
}

// MonitorStats - счётчики работы монитора
type MonitorStats struct {
	Ticks      int64 `json:"ticks"`
	ChecksRun  int64 `json:"checks_run"`
	ClosesDone int64 `json:"closes_done"`
	Positions  int   `json:"positions"`
}

// Stats возвращает счётчики для API
func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Ticks:      atomic.LoadInt64(&m.ticks),
		ChecksRun:  atomic.LoadInt64(&m.checksRun),
		ClosesDone: atomic.LoadInt64(&m.closesDone),
		Positions:  m.registry.Count(),
	}
}

// ============ проверки уровней ============

// stopHit проверяет касание стопа
func stopHit(p *models.Position, price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == models.SideLong {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// targetHit проверяет касание тейка
func targetHit(p *models.Position, price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == models.SideLong {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

// tightenTargetMonotonic двигает тейк только ближе к текущей цене.
// Тейк не расширяется и не опускается за цену - такой пересчёт
// отбрасывается.
func tightenTargetMonotonic(p *models.Position, candidate, price float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.Side == models.SideLong {
		if candidate <= price {
			return false
		}
		if p.TakeProfit > 0 && candidate >= p.TakeProfit {
			return false
		}
		p.TakeProfit = candidate
		return true
	}
	if candidate >= price {
		return false
	}
	if p.TakeProfit > 0 && candidate <= p.TakeProfit {
		return false
	}
	p.TakeProfit = candidate
	return true
}

// moveStopMonotonic двигает стоп только в сторону прибыли
func moveStopMonotonic(p *models.Position, candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.Side == models.SideLong {
		if p.StopLoss > 0 && candidate <= p.StopLoss {
			return false
		}
		p.StopLoss = candidate
		return true
	}
	if p.StopLoss > 0 && candidate >= p.StopLoss {
		return false
	}
	p.StopLoss = candidate
	return true
}
