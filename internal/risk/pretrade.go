package risk

import (
	"context"
	"fmt"
	"time"

	"positionbot/internal/exchange"
	"positionbot/internal/guard"
	"positionbot/internal/models"
	"positionbot/pkg/utils"
)

// Gate - pre-trade риск-гейт
//
// Каждый вход проходит фиксированную цепочку проверок:
// сессия -> дневной лимит -> концентрация -> VaR -> MTF -> размер ->
// SL/TP. Жёсткие блокировки собираются все, а не только первая,
// чтобы отчёт по отказу был полным.
type Gate struct {
	cfg   Params
	exch  exchange.Exchange
	daily *guard.DailyLossTracker
	corr  *guard.CorrelationGuard

	now func() time.Time
}

// EntryProposal - запрос на открытие позиции
type EntryProposal struct {
	UserID     int64
	Symbol     string
	Side       string  // long, short
	Confidence float64 // уверенность сигнала 0..1
	Leverage   int

	// RequestedSLPct > 0 - SL задан пользователем в % капитала
	// (пересчитывается с учётом плеча), иначе SL/TP считаются от ATR
	RequestedSLPct float64
	RequestedTPPct float64
}

// Decision - вердикт риск-гейта
type Decision struct {
	Approved   bool     `json:"approved"`
	Reasons    []string `json:"reasons,omitempty"` // причины отказа / предупреждения
	SizeUSD    float64  `json:"size_usd"`
	Quantity   float64  `json:"quantity"`
	EntryPrice float64  `json:"entry_price"`
	StopLoss   float64  `json:"stop_loss"`
	TakeProfit float64  `json:"take_profit"`

	VaR     VaRResult     `json:"var"`
	MTF     MTFResult     `json:"mtf"`
	Sharpe  float64       `json:"sharpe"`
	Quality SharpeQuality `json:"quality"`
}

// NewGate создаёт риск-гейт
func NewGate(cfg Params, exch exchange.Exchange, daily *guard.DailyLossTracker, corr *guard.CorrelationGuard) *Gate {
	cfg.Normalize()
	return &Gate{
		cfg:   cfg,
		exch:  exch,
		daily: daily,
		corr:  corr,
		now:   time.Now,
	}
}

// EvaluateEntry прогоняет предложение входа через все проверки
//
// settings и sample берутся вызывающим кодом из сервиса настроек
// и статистики; open - текущие позиции пользователя для проверки
// концентрации.
func (g *Gate) EvaluateEntry(
	ctx context.Context,
	proposal EntryProposal,
	settings *models.UserSettings,
	sample *models.PerformanceSample,
	open []guard.OpenExposure,
) (*Decision, error) {
	decision := &Decision{}

	// 1. Сессионные ограничения
	if sess := CheckSession(g.now(), settings.WeekendBlock, g.cfg); !sess.Allowed {
		decision.Reasons = append(decision.Reasons, sess.Reason)
	}

	// 2. Дневной стоп
	if ok, reason := g.daily.CanTrade(proposal.UserID, settings.CapitalUSD); !ok {
		decision.Reasons = append(decision.Reasons, reason)
	}

	// 3. VaR портфеля
	returns := dailyReturns(sample, settings.CapitalUSD)
	decision.VaR = ParametricVaR(returns, g.cfg.VaRConfidence)
	switch CheckVaR(decision.VaR, g.cfg) {
	case VaRBlock:
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("VaR %.1f%% exceeds block threshold %.1f%%", decision.VaR.VaRPct, g.cfg.VaRBlockPct))
	case VaRWarn:
		utils.Log.Warnw("VaR warning", "user_id", proposal.UserID, "var_pct", decision.VaR.VaRPct)
	}

	// Текущая цена нужна всем последующим шагам
	price, err := g.exch.GetPrice(ctx, proposal.Symbol)
	if err != nil {
		return nil, fmt.Errorf("get price for %s: %w", proposal.Symbol, err)
	}
	decision.EntryPrice = price

	// 4. SL/TP: пользовательские проценты или динамика от ATR
	atrPct := 0.0
	if proposal.RequestedSLPct > 0 {
		decision.StopLoss = LeverageAdjustedStop(price, proposal.Side, proposal.RequestedSLPct, proposal.Leverage)
		tpPct := proposal.RequestedTPPct
		if tpPct == 0 {
			tpPct = proposal.RequestedSLPct * g.cfg.MinRiskReward
		}
		decision.TakeProfit = LeverageAdjustedTarget(price, proposal.Side, tpPct, proposal.Leverage)

		if klines, kerr := g.exch.GetKlines(ctx, proposal.Symbol, "1h", g.cfg.ATRPeriod+1); kerr == nil {
			if atr, aerr := ATR(klines, g.cfg.ATRPeriod); aerr == nil {
				atrPct = atr / price * 100
			}
		}
	} else {
		klines, kerr := g.exch.GetKlines(ctx, proposal.Symbol, "1h", g.cfg.ATRPeriod+1)
		if kerr != nil {
			return nil, fmt.Errorf("get klines for %s: %w", proposal.Symbol, kerr)
		}
		targets, terr := DynamicStops(price, proposal.Side, klines, g.cfg)
		if terr != nil {
			return nil, fmt.Errorf("dynamic stops for %s: %w", proposal.Symbol, terr)
		}
		decision.StopLoss = targets.StopLoss
		decision.TakeProfit = targets.TakeProfit
		atrPct = targets.ATRPct
	}

	slDistancePct := slDistance(price, decision.StopLoss)

	// 5. MTF подтверждение (не блокирует, режет размер)
	decision.MTF = ConfirmDirection(ctx, g.exch, proposal.Symbol, proposal.Side)

	// 6. Качество торговли по Sharpe
	decision.Sharpe = AnnualizedSharpe(returns)
	decision.Quality = ClassifySharpe(decision.Sharpe)

	// 7. Размер позиции
	limits, err := g.exch.GetLimits(ctx, proposal.Symbol)
	if err != nil {
		return nil, fmt.Errorf("get limits for %s: %w", proposal.Symbol, err)
	}

	sizeResult, err := CombinedSize(SizeRequest{
		Capital:        settings.CapitalUSD,
		Sample:         sample,
		SLDistancePct:  slDistancePct,
		ATRPct:         atrPct,
		Confidence:     proposal.Confidence,
		MaxPositionPct: settings.MaxPositionPct,
		MinOrderUSD:    limits.MinOrderQty * price,
	}, g.cfg)
	if err != nil {
		decision.Reasons = append(decision.Reasons, err.Error())
		return decision, nil
	}

	size := sizeResult.SizeUSD * decision.MTF.SizeMult * SharpeSizeMultiplier(decision.Quality)
	decision.SizeUSD = size
	decision.Quantity = roundToStep(size/price, limits.QtyStep)

	// 8. Концентрация портфеля (считается по итоговому размеру)
	if ok, reason := g.corr.CanOpen(proposal.Symbol, size, settings.CapitalUSD, open); !ok {
		decision.Reasons = append(decision.Reasons, reason)
	}

	decision.Approved = len(decision.Reasons) == 0
	return decision, nil
}

// dailyReturns переводит дневной PNL выборки в доли капитала
func dailyReturns(sample *models.PerformanceSample, capital float64) []float64 {
	if sample == nil || capital <= 0 {
		return nil
	}
	returns := make([]float64, len(sample.DailyPnl))
	for i, pnl := range sample.DailyPnl {
		returns[i] = pnl / capital
	}
	return returns
}

// slDistance возвращает дистанцию до SL в % от цены
func slDistance(price, stopLoss float64) float64 {
	if price <= 0 || stopLoss <= 0 {
		return 0
	}
	dist := price - stopLoss
	if dist < 0 {
		dist = -dist
	}
	return dist / price * 100
}

// roundToStep округляет количество вниз до шага лота
func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := int64(qty / step)
	return float64(steps) * step
}
