package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleAssetLimit(t *testing.T) {
	g := NewCorrelationGuard()

	open := []OpenExposure{{Symbol: "BTCUSDT", SizeUSD: 2500}}

	// 2500 + 800 = 3300 > 30% от 10000
	ok, reason := g.CanOpen("BTCUSDT", 800, 10000, open)
	require.False(t, ok)
	assert.Contains(t, reason, "single asset")

	// 2500 + 400 = 2900 < 3000 - разрешено
	ok, _ = g.CanOpen("BTCUSDT", 400, 10000, open)
	assert.True(t, ok)
}

func TestCategoryLimit(t *testing.T) {
	g := NewCorrelationGuard()

	open := []OpenExposure{
		{Symbol: "SOLUSDT", SizeUSD: 100},
		{Symbol: "AVAXUSDT", SizeUSD: 100},
		{Symbol: "ADAUSDT", SizeUSD: 100},
	}

	// Четвёртая позиция в категории layer1
	ok, reason := g.CanOpen("DOTUSDT", 100, 10000, open)
	require.False(t, ok)
	assert.Contains(t, reason, "category")

	// Другая категория - разрешено
	ok, _ = g.CanOpen("DOGEUSDT", 100, 10000, open)
	assert.True(t, ok)
}

func TestCorrelatedExposureLimit(t *testing.T) {
	g := NewCorrelationGuard()

	// ETH сильно коррелирует с BTC (0.85)
	open := []OpenExposure{
		{Symbol: "ETHUSDT", SizeUSD: 2900},
		{Symbol: "SOLUSDT", SizeUSD: 2400},
	}

	// BTC: 2500 + 2900*0.85 + 2400*0.75 = 6765 > 50% от 10000
	ok, reason := g.CanOpen("BTCUSDT", 2500, 10000, open)
	require.False(t, ok)
	assert.Contains(t, reason, "correlated")
}

func TestCorrelationLookupSymmetric(t *testing.T) {
	g := NewCorrelationGuard()

	assert.Equal(t, g.Correlation("BTC", "ETH"), g.Correlation("ETH", "BTC"))
	assert.Equal(t, 1.0, g.Correlation("BTC", "BTC"))
	// Неизвестная пара - умеренный дефолт
	assert.Equal(t, 0.5, g.Correlation("BTC", "XYZ"))
}

func TestBaseAssetParsing(t *testing.T) {
	assert.Equal(t, "BTC", baseAsset("BTCUSDT"))
	assert.Equal(t, "PEPE", baseAsset("PEPEUSDC"))
	assert.Equal(t, "SOL", baseAsset("solusdt"))
}

func TestCanOpenRequiresCapital(t *testing.T) {
	g := NewCorrelationGuard()
	ok, _ := g.CanOpen("BTCUSDT", 100, 0, nil)
	assert.False(t, ok)
}
