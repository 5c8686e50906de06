package risk

import "time"

// Params - параметры риск-движка
//
// Заполняется из конфигурации приложения при старте; нулевые значения
// заменяются дефолтами через Normalize.
type Params struct {
	ATRPeriod       int
	ATRMultiplierSL float64
	ATRMultiplierTP float64
	MinRiskReward   float64
	MinStopLossPct  float64
	MaxStopLossPct  float64

	KellyMinTrades int     // минимум сделок для включения Kelly
	BaseKellyCap   float64 // доля сырого Kelly при минимальной выборке
	MaxKellyCap    float64 // доля сырого Kelly при большой выборке
	FixedRiskPct   float64 // fallback: фикс. доля капитала на сделку

	VaRConfidence float64
	VaRBlockPct   float64
	VaRWarnPct    float64

	MaintenanceMargin float64

	RolloverWindow time.Duration // половина окна вокруг 00:00 UTC
}

// DefaultParams возвращает параметры по умолчанию
func DefaultParams() Params {
	return Params{
		ATRPeriod:         14,
		ATRMultiplierSL:   1.5,
		ATRMultiplierTP:   3.0,
		MinRiskReward:     1.5,
		MinStopLossPct:    0.5,
		MaxStopLossPct:    10.0,
		KellyMinTrades:    20,
		BaseKellyCap:      0.25,
		MaxKellyCap:       0.5,
		FixedRiskPct:      2.0,
		VaRConfidence:     0.95,
		VaRBlockPct:       10.0,
		VaRWarnPct:        5.0,
		MaintenanceMargin: 0.005,
		RolloverWindow:    30 * time.Minute,
	}
}

// Normalize подставляет дефолты вместо нулевых значений
func (p *Params) Normalize() {
	def := DefaultParams()
	if p.ATRPeriod == 0 {
		p.ATRPeriod = def.ATRPeriod
	}
	if p.ATRMultiplierSL == 0 {
		p.ATRMultiplierSL = def.ATRMultiplierSL
	}
	if p.ATRMultiplierTP == 0 {
		p.ATRMultiplierTP = def.ATRMultiplierTP
	}
	if p.MinRiskReward == 0 {
		p.MinRiskReward = def.MinRiskReward
	}
	if p.MinStopLossPct == 0 {
		p.MinStopLossPct = def.MinStopLossPct
	}
	if p.MaxStopLossPct == 0 {
		p.MaxStopLossPct = def.MaxStopLossPct
	}
	if p.KellyMinTrades == 0 {
		p.KellyMinTrades = def.KellyMinTrades
	}
	if p.BaseKellyCap == 0 {
		p.BaseKellyCap = def.BaseKellyCap
	}
	if p.MaxKellyCap == 0 {
		p.MaxKellyCap = def.MaxKellyCap
	}
	if p.FixedRiskPct == 0 {
		p.FixedRiskPct = def.FixedRiskPct
	}
	if p.VaRConfidence == 0 {
		p.VaRConfidence = def.VaRConfidence
	}
	if p.VaRBlockPct == 0 {
		p.VaRBlockPct = def.VaRBlockPct
	}
	if p.VaRWarnPct == 0 {
		p.VaRWarnPct = def.VaRWarnPct
	}
	if p.MaintenanceMargin == 0 {
		p.MaintenanceMargin = def.MaintenanceMargin
	}
	if p.RolloverWindow == 0 {
		p.RolloverWindow = def.RolloverWindow
	}
}
