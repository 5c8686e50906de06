package risk

// Расчёт цены ликвидации и классификация близости к ней.
// Изолированная маржа, упрощённая модель:
//
//	long:  liq = entry * (1 - 1/L + mmr)
//	short: liq = entry * (1 + 1/L - mmr)

// LiquidationTier - уровень опасности по дистанции до ликвидации
type LiquidationTier string

const (
	LiqSafe     LiquidationTier = "safe"     // > 20%
	LiqWarning  LiquidationTier = "warning"  // 15-20%
	LiqHigh     LiquidationTier = "high"     // 10-15%
	LiqCritical LiquidationTier = "critical" // 5-10%
	LiqExtreme  LiquidationTier = "extreme"  // < 5%
)

// LiquidationPrice возвращает расчётную цену ликвидации
//
// Для спота (leverage <= 1) возвращает 0 - ликвидации нет.
func LiquidationPrice(entryPrice float64, side string, leverage int, mmr float64) float64 {
	if leverage <= 1 {
		return 0
	}
	l := float64(leverage)

	if side == "long" {
		return entryPrice * (1 - 1/l + mmr)
	}
	return entryPrice * (1 + 1/l - mmr)
}

// LiquidationDistancePct возвращает дистанцию до ликвидации в % от цены
//
// Отрицательная дистанция означает, что цена уже за ликвидацией.
func LiquidationDistancePct(currentPrice, liqPrice float64, side string) float64 {
	if liqPrice <= 0 || currentPrice <= 0 {
		return 100
	}

	if side == "long" {
		return (currentPrice - liqPrice) / currentPrice * 100
	}
	return (liqPrice - currentPrice) / currentPrice * 100
}

// ClassifyLiquidation возвращает уровень опасности по дистанции
func ClassifyLiquidation(distancePct float64) LiquidationTier {
	switch {
	case distancePct > 20:
		return LiqSafe
	case distancePct > 15:
		return LiqWarning
	case distancePct > 10:
		return LiqHigh
	case distancePct > 5:
		return LiqCritical
	default:
		return LiqExtreme
	}
}

// NeedsAutoClose возвращает true для уровней, требующих авто-закрытия
func NeedsAutoClose(tier LiquidationTier) bool {
	return tier == LiqCritical || tier == LiqExtreme
}

// NeedsWarning возвращает true для уровней, требующих уведомления
func NeedsWarning(tier LiquidationTier) bool {
	return tier == LiqWarning || tier == LiqHigh
}
