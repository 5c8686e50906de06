package risk

import (
	"fmt"
	"math"

	"positionbot/internal/models"
)

// Расчёт размера позиции: Kelly + волатильность + уверенность сигнала.

// KellyFraction возвращает долю капитала по критерию Келли
//
// f = (b*p - q) / b, где b = avgWin/avgLoss, p = win rate, q = 1-p.
// Сырое значение умножается на прогрессивную долю: BaseKellyCap при
// минимальной выборке, линейно растёт до MaxKellyCap при 100+ сделках.
// Выборка меньше KellyMinTrades - fallback на фикс. долю FixedRiskPct.
func KellyFraction(sample *models.PerformanceSample, cfg Params) float64 {
	if sample == nil || sample.Trades < cfg.KellyMinTrades {
		return cfg.FixedRiskPct / 100
	}
	if sample.AvgLoss <= 0 || sample.AvgWin <= 0 {
		return cfg.FixedRiskPct / 100
	}

	p := sample.WinRate()
	q := 1 - p
	b := sample.AvgWin / sample.AvgLoss

	raw := (b*p - q) / b
	if raw <= 0 {
		// Отрицательное ожидание - минимальный размер
		return cfg.FixedRiskPct / 100 * 0.5
	}

	fraction := progressiveFraction(sample.Trades, cfg)
	return raw * fraction
}

// progressiveFraction интерполирует долю сырого Kelly по размеру выборки
func progressiveFraction(trades int, cfg Params) float64 {
	const fullSample = 100

	if trades >= fullSample {
		return cfg.MaxKellyCap
	}
	span := float64(fullSample - cfg.KellyMinTrades)
	if span <= 0 {
		return cfg.BaseKellyCap
	}
	progress := float64(trades-cfg.KellyMinTrades) / span
	return cfg.BaseKellyCap + progress*(cfg.MaxKellyCap-cfg.BaseKellyCap)
}

// VolatilitySize возвращает размер позиции в USD от риск-бюджета
//
// riskBudget = capital * riskPct * volMultiplier; размер подбирается
// так, чтобы при срабатывании SL потеря равнялась бюджету.
func VolatilitySize(capital, riskPct, slDistancePct, volMultiplier float64) float64 {
	if slDistancePct <= 0 {
		return 0
	}
	riskBudget := capital * riskPct / 100 * volMultiplier
	return riskBudget / (slDistancePct / 100)
}

// SizeRequest - входные данные расчёта размера
type SizeRequest struct {
	Capital        float64
	Sample         *models.PerformanceSample
	SLDistancePct  float64 // дистанция SL в %
	ATRPct         float64
	Confidence     float64 // уверенность сигнала 0..1
	MaxPositionPct float64 // лимит пользователя, % капитала

	// Лимиты биржи
	MinOrderUSD float64
}

// SizeResult - результат расчёта размера
type SizeResult struct {
	SizeUSD    float64
	KellySize  float64
	VolSize    float64
	Multiplier float64 // итоговый множитель уверенности
	Raised     bool    // размер поднят до биржевого минимума
}

// CombinedSize рассчитывает итоговый размер позиции
//
// min(Kelly, Vol) * (0.5 + confidence*0.5), ограничение лимитом
// пользователя, затем проверка биржевого минимума: поднимаем до
// min*1.1 только если это не нарушает лимит и не превышает 50%
// капитала, иначе отклоняем.
func CombinedSize(req SizeRequest, cfg Params) (*SizeResult, error) {
	kellyFraction := KellyFraction(req.Sample, cfg)
	kellySize := req.Capital * kellyFraction

	volMult := VolatilityMultiplier(req.ATRPct)
	volSize := VolatilitySize(req.Capital, cfg.FixedRiskPct, req.SLDistancePct, volMult)

	size := math.Min(kellySize, volSize)

	confidence := req.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	multiplier := 0.5 + confidence*0.5
	size *= multiplier

	// Лимит пользователя
	maxSize := req.Capital * req.MaxPositionPct / 100
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}

	result := &SizeResult{
		SizeUSD:    size,
		KellySize:  kellySize,
		VolSize:    volSize,
		Multiplier: multiplier,
	}

	// Биржевой минимум
	if req.MinOrderUSD > 0 && size < req.MinOrderUSD {
		raised := req.MinOrderUSD * 1.1
		if (maxSize == 0 || raised <= maxSize) && raised <= req.Capital*0.5 {
			result.SizeUSD = raised
			result.Raised = true
		} else {
			return nil, fmt.Errorf("calculated size %.2f below exchange minimum %.2f and cannot be raised safely",
				size, req.MinOrderUSD)
		}
	}

	return result, nil
}
