package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiquidationPriceLong(t *testing.T) {
	// entry 100, 10x, mmr 0.005: liq = 100 * (1 - 0.1 + 0.005) = 90.5
	liq := LiquidationPrice(100, "long", 10, 0.005)
	assert.InDelta(t, 90.5, liq, 1e-9)
}

func TestLiquidationPriceShort(t *testing.T) {
	// entry 100, 10x, mmr 0.005: liq = 100 * (1 + 0.1 - 0.005) = 109.5
	liq := LiquidationPrice(100, "short", 10, 0.005)
	assert.InDelta(t, 109.5, liq, 1e-9)
}

func TestLiquidationPriceSpot(t *testing.T) {
	assert.Zero(t, LiquidationPrice(100, "long", 1, 0.005))
	assert.Zero(t, LiquidationPrice(100, "long", 0, 0.005))
}

func TestLiquidationDistance(t *testing.T) {
	// long: цена 100, liq 90.5 -> дистанция 9.5%
	dist := LiquidationDistancePct(100, 90.5, "long")
	assert.InDelta(t, 9.5, dist, 1e-9)

	// short: цена 100, liq 109.5 -> 9.5%
	dist = LiquidationDistancePct(100, 109.5, "short")
	assert.InDelta(t, 9.5, dist, 1e-9)

	// цена за ликвидацией - отрицательная дистанция
	dist = LiquidationDistancePct(89, 90.5, "long")
	assert.Negative(t, dist)

	// спот (liq=0) - безопасно
	assert.Equal(t, 100.0, LiquidationDistancePct(100, 0, "long"))
}

func TestClassifyLiquidationTiers(t *testing.T) {
	tests := []struct {
		dist float64
		want LiquidationTier
	}{
		{25, LiqSafe},
		{17, LiqWarning},
		{12, LiqHigh},
		{7, LiqCritical},
		{3, LiqExtreme},
		{-1, LiqExtreme},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyLiquidation(tt.dist), "dist=%v", tt.dist)
	}
}

func TestAutoCloseAndWarningFlags(t *testing.T) {
	assert.True(t, NeedsAutoClose(LiqCritical))
	assert.True(t, NeedsAutoClose(LiqExtreme))
	assert.False(t, NeedsAutoClose(LiqWarning))

	assert.True(t, NeedsWarning(LiqWarning))
	assert.True(t, NeedsWarning(LiqHigh))
	assert.False(t, NeedsWarning(LiqSafe))
}
