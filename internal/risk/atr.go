package risk

import (
	"errors"
	"math"

	"positionbot/internal/exchange"
)

// Расчёты волатильности: ATR, множители риска, динамические SL/TP.

var (
	ErrNotEnoughKlines = errors.New("not enough klines for ATR")
)

// ATR вычисляет Average True Range как SMA от True Range за period свечей
//
// TR = max(high-low, |high-prevClose|, |low-prevClose|)
func ATR(klines []exchange.Kline, period int) (float64, error) {
	if len(klines) < period+1 {
		return 0, ErrNotEnoughKlines
	}

	// Берём последние period+1 свечей (нужен prevClose для первой)
	klines = klines[len(klines)-period-1:]

	sum := 0.0
	for i := 1; i < len(klines); i++ {
		sum += trueRange(klines[i], klines[i-1].Close)
	}
	return sum / float64(period), nil
}

// trueRange вычисляет True Range одной свечи
func trueRange(k exchange.Kline, prevClose float64) float64 {
	hl := k.High - k.Low
	hc := math.Abs(k.High - prevClose)
	lc := math.Abs(k.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// VolatilityMultiplier возвращает множитель размера позиции по ATR%
//
// Высокая волатильность режет размер, низкая - слегка увеличивает:
//
//	ATR% > 4 -> 0.5
//	ATR% > 3 -> 0.7
//	ATR% > 2 -> 0.85
//	ATR% < 1 -> 1.2
//	иначе    -> 1.0
func VolatilityMultiplier(atrPct float64) float64 {
	switch {
	case atrPct > 4:
		return 0.5
	case atrPct > 3:
		return 0.7
	case atrPct > 2:
		return 0.85
	case atrPct < 1:
		return 1.2
	default:
		return 1.0
	}
}

// StopTargets - рассчитанные уровни SL/TP
type StopTargets struct {
	StopLoss   float64
	TakeProfit float64
	StopPct    float64 // дистанция SL в % от цены
	TargetPct  float64 // дистанция TP в % от цены
	ATR        float64
	ATRPct     float64
}

// DynamicStops рассчитывает SL/TP от ATR
//
// sl = ATR * multSL, tp = ATR * multTP; TP расширяется до минимального
// R:R, дистанция SL ограничивается [minSLPct, maxSLPct] от цены.
func DynamicStops(price float64, side string, klines []exchange.Kline, cfg Params) (*StopTargets, error) {
	atr, err := ATR(klines, cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}

	slDist := atr * cfg.ATRMultiplierSL
	tpDist := atr * cfg.ATRMultiplierTP

	// Границы дистанции SL в процентах от цены
	slPct := slDist / price * 100
	if slPct < cfg.MinStopLossPct {
		slPct = cfg.MinStopLossPct
		slDist = price * slPct / 100
	}
	if slPct > cfg.MaxStopLossPct {
		slPct = cfg.MaxStopLossPct
		slDist = price * slPct / 100
	}

	// Минимальный risk:reward (после клампа SL)
	if slDist > 0 && tpDist/slDist < cfg.MinRiskReward {
		tpDist = slDist * cfg.MinRiskReward
	}

	targets := &StopTargets{
		StopPct:   slPct,
		TargetPct: tpDist / price * 100,
		ATR:       atr,
		ATRPct:    atr / price * 100,
	}

	if side == "long" {
		targets.StopLoss = price - slDist
		targets.TakeProfit = price + tpDist
	} else {
		targets.StopLoss = price + slDist
		targets.TakeProfit = price - tpDist
	}
	return targets, nil
}

// LeverageAdjustedStop возвращает цену SL с учётом плеча
//
// Запрошенный риск задаётся в % капитала; при плече движение цены
// умножается на плечо, поэтому эффективная дистанция = requested / leverage.
// Пример: вход 50000, плечо 10, риск 5% -> дистанция 0.5% -> SL 49750.
func LeverageAdjustedStop(entryPrice float64, side string, requestedPct float64, leverage int) float64 {
	effectivePct := requestedPct
	if leverage > 1 {
		effectivePct = requestedPct / float64(leverage)
	}

	if side == "long" {
		return entryPrice * (1 - effectivePct/100)
	}
	return entryPrice * (1 + effectivePct/100)
}

// LeverageAdjustedTarget возвращает цену TP с учётом плеча
func LeverageAdjustedTarget(entryPrice float64, side string, requestedPct float64, leverage int) float64 {
	effectivePct := requestedPct
	if leverage > 1 {
		effectivePct = requestedPct / float64(leverage)
	}

	if side == "long" {
		return entryPrice * (1 + effectivePct/100)
	}
	return entryPrice * (1 - effectivePct/100)
}

// TieredTrailingDistance возвращает дистанцию трейлинг-стопа в %
// в зависимости от накопленного профита: чем больше профит, тем
// плотнее стоп прижимается к цене
func TieredTrailingDistance(profitPct float64) float64 {
	switch {
	case profitPct >= 10:
		return 0.5
	case profitPct >= 5:
		return 0.75
	case profitPct >= 2:
		return 1.0
	default:
		return 1.5
	}
}
