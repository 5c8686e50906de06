package risk

import "math"

// Sharpe ratio и оценка качества торговли.
// Крипта торгуется без выходных - аннуализация на 365 дней.

const (
	annualRiskFree = 0.04 // 4% годовых
	tradingDays    = 365
)

// SharpeQuality - категория качества по Sharpe
type SharpeQuality string

const (
	SharpeExcellent  SharpeQuality = "excellent"  // >= 2
	SharpeGood       SharpeQuality = "good"       // >= 1
	SharpeAcceptable SharpeQuality = "acceptable" // >= 0.5
	SharpeDegraded   SharpeQuality = "degraded"   // < 0.5, размер * 0.7
)

// AnnualizedSharpe вычисляет аннуализированный Sharpe ratio
// по дневным доходностям (доли, не проценты)
func AnnualizedSharpe(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}

	dailyRf := annualRiskFree / tradingDays

	mean := 0.0
	for _, r := range dailyReturns {
		mean += r
	}
	mean /= float64(len(dailyReturns))

	variance := 0.0
	for _, r := range dailyReturns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(dailyReturns) - 1)
	std := math.Sqrt(variance)

	if std == 0 {
		return 0
	}

	return (mean - dailyRf) / std * math.Sqrt(tradingDays)
}

// ClassifySharpe возвращает категорию качества
func ClassifySharpe(sharpe float64) SharpeQuality {
	switch {
	case sharpe >= 2:
		return SharpeExcellent
	case sharpe >= 1:
		return SharpeGood
	case sharpe >= 0.5:
		return SharpeAcceptable
	default:
		return SharpeDegraded
	}
}

// SharpeSizeMultiplier возвращает множитель размера по качеству:
// деградировавшая статистика режет размер до 0.7
func SharpeSizeMultiplier(quality SharpeQuality) float64 {
	if quality == SharpeDegraded {
		return 0.7
	}
	return 1.0
}
