package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"positionbot/internal/exchange"
	"positionbot/internal/models"
	"positionbot/pkg/utils"
)

// Reconciler - сверка реестра с реальным состоянием биржи
//
// Два сценария расхождения:
//   - позиция есть в реестре, но не на бирже (закрыта вручную, ликвидирована
//     мимо монитора) - "призрак" в реестре;
//   - позиция есть на бирже, но не в реестре (открыта мимо бота) -
//     призрак на бирже.
//
// Позиция объявляется призраком только после ДВУХ подряд сверок без
// неё на бирже: одиночный пропуск бывает из-за лага API. Призраки в
// реестре закрываются без ордера (закрывать нечего), с записью сделки
// по последней цене. Чужие позиции на бирже берутся под мониторинг:
// регистрируются с пометкой о происхождении, недостающие SL/TP им
// довыставит монитор.
type Reconciler struct {
	registry *Registry
	exch     exchange.Exchange
	trades   TradeStore
	notifier Notifier

	reconcileFreq time.Duration
	validateAfter time.Duration

	// positionID -> подряд идущие сверки без позиции на бирже
	misses map[string]int

	now func() time.Time
}

// NewReconciler создаёт сверщик
func NewReconciler(registry *Registry, exch exchange.Exchange, trades TradeStore,
	notifier Notifier, reconcileFreq, validateAfter time.Duration) *Reconciler {

	return &Reconciler{
		registry:      registry,
		exch:          exch,
		trades:        trades,
		notifier:      notifier,
		reconcileFreq: reconcileFreq,
		validateAfter: validateAfter,
		misses:        make(map[string]int),
		now:           time.Now,
	}
}

// Run запускает периодическую сверку
//
// Первая (валидационная) сверка выполняется вскоре после старта -
// восстановленный из БД реестр мог разойтись с биржей за время простоя.
func (r *Reconciler) Run(ctx context.Context) error {
	validate := time.NewTimer(r.validateAfter)
	defer validate.Stop()
	ticker := time.NewTicker(r.reconcileFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-validate.C:
			if err := r.Reconcile(ctx); err != nil {
				utils.Log.Errorw("startup validation failed", "error", err)
			}
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				utils.Log.Errorw("reconcile failed", "error", err)
			}
		}
	}
}

// Reconcile выполняет одну сверку реестра с биржей
func (r *Reconciler) Reconcile(ctx context.Context) error {
	onExchange, err := r.exch.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch open positions: %w", err)
	}

	seen := make(map[string]*exchange.OpenPosition, len(onExchange))
	for _, op := range onExchange {
		seen[op.Symbol+"/"+op.Side] = op
	}

	tracked := make(map[string]bool)
	for _, p := range r.registry.SnapshotOpen() {
		key := p.Symbol + "/" + p.Side
		tracked[key] = true

		if p.State != models.PositionStateActive {
			continue // reducing/closing сверять бессмысленно
		}

		if _, ok := seen[key]; ok {
			delete(r.misses, p.ID)
			continue
		}

		r.misses[p.ID]++
		if r.misses[p.ID] < 2 {
			utils.Log.Warnw("position missing on exchange, waiting for confirmation",
				"position", p.ID, "symbol", p.Symbol)
			continue
		}
		delete(r.misses, p.ID)
		r.closeGhost(ctx, p)
	}

	// Позиции на бирже, которых нет в реестре, берутся под мониторинг
	for key, op := range seen {
		if tracked[key] {
			continue
		}
		r.adoptUntracked(op)
	}

	return nil
}

// adoptUntracked регистрирует найденную на бирже позицию
//
// Владелец неизвестен - позиция пишется на системного пользователя (0)
// с пометкой о происхождении. SL/TP с биржи недоступны, их в ближайший
// тик довыставит монитор.
func (r *Reconciler) adoptUntracked(op *exchange.OpenPosition) {
	entry := op.EntryPrice
	if entry <= 0 {
		entry = op.MarkPrice
	}
	leverage := op.Leverage
	if leverage < 1 {
		leverage = 1
	}
	now := r.now().UTC()

	p := &models.Position{
		ID:               uuid.NewString(),
		UserID:           0,
		Symbol:           op.Symbol,
		Side:             op.Side,
		EntryPrice:       entry,
		Quantity:         op.Size,
		OriginalQuantity: op.Size,
		Leverage:         leverage,
		HighestPrice:     entry,
		LowestPrice:      entry,
		Origin:           models.PositionOriginReconciled,
		Notes:            "adopted by reconcile, entry price approximated from exchange data",
		State:            models.PositionStateActive,
		OpenedAt:         now,
		LastPrice:        op.MarkPrice,
	}
	if err := r.registry.Add(p); err != nil {
		utils.Log.Errorw("untracked position adoption failed",
			"symbol", op.Symbol, "side", op.Side, "error", err)
		return
	}

	GhostsDetected.WithLabelValues("missing_in_registry").Inc()
	utils.Log.Warnw("untracked position adopted",
		"position", p.ID, "symbol", op.Symbol, "side", op.Side, "size", op.Size)
	r.notify(&models.Notification{
		Type:       models.NotificationTypeGhost,
		Severity:   models.SeverityWarn,
		UserID:     0,
		PositionID: &p.ID,
		Message: fmt.Sprintf("Неотслеживаемая позиция %s %s (size %.6f) взята под мониторинг",
			op.Symbol, op.Side, op.Size),
	})
}

// closeGhost закрывает позицию-призрак в реестре
//
// Ордер не отправляется - на бирже позиции уже нет. Сделка пишется
// по последней известной цене, реальный PNL неизвестен.
func (r *Reconciler) closeGhost(ctx context.Context, p *models.Position) {
	GhostsDetected.WithLabelValues("missing_on_exchange").Inc()
	utils.Log.Warnw("closing ghost position",
		"position", p.ID, "symbol", p.Symbol, "last_price", p.LastPrice)

	if err := r.registry.Update(p.ID, func(p *models.Position) error {
		if err := Transition(p, models.PositionStateClosing); err != nil {
			return err
		}
		p.Quantity = 0
		return Transition(p, models.PositionStateClosed)
	}); err != nil {
		utils.Log.Errorw("ghost close transition failed", "position", p.ID, "error", err)
		return
	}

	exitPrice := p.LastPrice
	if exitPrice == 0 {
		exitPrice = p.EntryPrice
	}
	pnl := realizedPnl(p.Side, p.EntryPrice, exitPrice, p.Quantity)

	if r.trades != nil {
		now := r.now().UTC()
		trade := &models.TradeRecord{
			PositionID: p.ID,
			UserID:     p.UserID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			ExitPrice:  exitPrice,
			Pnl:        pnl,
			Reason:     models.CloseReasonGhost,
			CreatedAt:  now,
			ClosedAt:   &now,
		}
		if err := r.trades.SaveTrade(ctx, trade); err != nil {
			utils.Log.Errorw("ghost trade save failed", "position", p.ID, "error", err)
		}
	}

	RecordClose(models.CloseReasonGhost, pnl)
	r.notify(&models.Notification{
		Type:       models.NotificationTypeGhost,
		Severity:   models.SeverityWarn,
		UserID:     p.UserID,
		PositionID: &p.ID,
		Message: fmt.Sprintf("Позиция %s %s закрыта как отсутствующая на бирже (PNL оценочно %+.2f)",
			p.Side, p.Symbol, pnl),
	})
}

func (r *Reconciler) notify(n *models.Notification) {
	if r.notifier == nil {
		return
	}
	n.Timestamp = r.now().UTC()
	r.notifier.Notify(n)
}
