package risk

import "math"

// Параметрический Value-at-Risk по истории дневных доходностей.

// z-значения нормального распределения по уровню доверия
var zScores = map[float64]float64{
	0.90: 1.282,
	0.95: 1.645,
	0.99: 2.326,
}

// VaRResult - результат расчёта VaR
type VaRResult struct {
	VaRPct     float64 // потенциальная потеря, % капитала (положительное число)
	Confidence float64
	Samples    int
	Fallback   bool // мало данных, использована консервативная оценка
}

// VaRStatus - вердикт VaR проверки
type VaRStatus string

const (
	VaROK    VaRStatus = "ok"
	VaRWarn  VaRStatus = "warn"
	VaRBlock VaRStatus = "block"
)

// ParametricVaR вычисляет VaR по дневным доходностям (доли, не проценты)
//
// varReturn = mean - z*std; при выборке меньше 10 точек возвращается
// консервативные 5%.
func ParametricVaR(dailyReturns []float64, confidence float64) VaRResult {
	z, ok := zScores[confidence]
	if !ok {
		z = zScores[0.95]
		confidence = 0.95
	}

	if len(dailyReturns) < 10 {
		return VaRResult{VaRPct: 5.0, Confidence: confidence, Samples: len(dailyReturns), Fallback: true}
	}

	mean := 0.0
	for _, r := range dailyReturns {
		mean += r
	}
	mean /= float64(len(dailyReturns))

	variance := 0.0
	for _, r := range dailyReturns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(dailyReturns))
	std := math.Sqrt(variance)

	varReturn := mean - z*std

	varPct := 0.0
	if varReturn < 0 {
		varPct = -varReturn * 100
	}

	return VaRResult{VaRPct: varPct, Confidence: confidence, Samples: len(dailyReturns)}
}

// CheckVaR сравнивает VaR с порогами конфигурации
func CheckVaR(result VaRResult, cfg Params) VaRStatus {
	switch {
	case result.VaRPct > cfg.VaRBlockPct:
		return VaRBlock
	case result.VaRPct > cfg.VaRWarnPct:
		return VaRWarn
	default:
		return VaROK
	}
}
