package guard

import (
	"fmt"
	"strings"
	"sync"
)

// CorrelationGuard - контроль концентрации портфеля
//
// Три лимита:
//   - один актив: не больше 30% капитала
//   - категория: не больше 3 позиций
//   - коррелированная экспозиция: сумма размеров позиций с r >= 0.7
//     к запрошенному активу (взвешенная по r) не больше 50% капитала
type CorrelationGuard struct {
	mu sync.RWMutex

	maxSingleAssetPct float64
	maxPerCategory    int
	maxCorrelatedPct  float64
	corrThreshold     float64

	matrix     map[string]map[string]float64
	categories map[string]string
}

// OpenExposure - открытая позиция для проверки концентрации
type OpenExposure struct {
	Symbol  string
	SizeUSD float64
}

// NewCorrelationGuard создаёт guard с дефолтной матрицей корреляций
func NewCorrelationGuard() *CorrelationGuard {
	return &CorrelationGuard{
		maxSingleAssetPct: 30,
		maxPerCategory:    3,
		maxCorrelatedPct:  50,
		corrThreshold:     0.7,
		matrix:            defaultCorrelationMatrix(),
		categories:        defaultAssetCategories(),
	}
}

// baseAsset выделяет базовый актив из символа ("BTCUSDT" -> "BTC")
func baseAsset(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, quote := range []string{"USDT", "USDC", "USD", "BUSD"} {
		if strings.HasSuffix(s, quote) {
			return strings.TrimSuffix(s, quote)
		}
	}
	return s
}

// Correlation возвращает корреляцию между двумя активами
func (g *CorrelationGuard) Correlation(a, b string) float64 {
	if a == b {
		return 1
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if row, ok := g.matrix[a]; ok {
		if r, ok := row[b]; ok {
			return r
		}
	}
	if row, ok := g.matrix[b]; ok {
		if r, ok := row[a]; ok {
			return r
		}
	}
	// Неизвестная пара - умеренная корреляция (крипта ходит вместе)
	return 0.5
}

// Category возвращает категорию актива
func (g *CorrelationGuard) Category(asset string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cat, ok := g.categories[asset]; ok {
		return cat
	}
	return "other"
}

// CanOpen проверяет, можно ли открыть позицию размером sizeUSD
func (g *CorrelationGuard) CanOpen(symbol string, sizeUSD, capital float64, open []OpenExposure) (bool, string) {
	if capital <= 0 {
		return false, "capital is not set"
	}

	asset := baseAsset(symbol)

	// 1. Лимит на один актив
	assetExposure := sizeUSD
	for _, pos := range open {
		if baseAsset(pos.Symbol) == asset {
			assetExposure += pos.SizeUSD
		}
	}
	if assetExposure > capital*g.maxSingleAssetPct/100 {
		return false, fmt.Sprintf("single asset exposure %.2f exceeds %.0f%% of capital",
			assetExposure, g.maxSingleAssetPct)
	}

	// 2. Лимит на категорию
	category := g.Category(asset)
	inCategory := 0
	for _, pos := range open {
		if g.Category(baseAsset(pos.Symbol)) == category {
			inCategory++
		}
	}
	if inCategory >= g.maxPerCategory {
		return false, fmt.Sprintf("category %q already has %d positions (max %d)",
			category, inCategory, g.maxPerCategory)
	}

	// 3. Коррелированная экспозиция
	correlated := sizeUSD // сама позиция, r=1
	for _, pos := range open {
		other := baseAsset(pos.Symbol)
		if other == asset {
			continue // уже учтено лимитом 1
		}
		r := g.Correlation(asset, other)
		if r >= g.corrThreshold {
			correlated += pos.SizeUSD * r
		}
	}
	if correlated > capital*g.maxCorrelatedPct/100 {
		return false, fmt.Sprintf("correlated exposure %.2f exceeds %.0f%% of capital",
			correlated, g.maxCorrelatedPct)
	}

	return true, ""
}

// defaultCorrelationMatrix - статическая матрица корреляций основных активов.
// Значения приближённые, по дневным доходностям за 2023-2024.
func defaultCorrelationMatrix() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"BTC": {
			"ETH": 0.85, "SOL": 0.75, "BNB": 0.72, "AVAX": 0.70,
			"ADA": 0.68, "DOT": 0.67, "LINK": 0.65, "DOGE": 0.60, "SHIB": 0.55,
		},
		"ETH": {
			"SOL": 0.80, "BNB": 0.74, "AVAX": 0.76, "ADA": 0.72,
			"DOT": 0.73, "LINK": 0.78, "UNI": 0.75, "AAVE": 0.74,
			"DOGE": 0.58, "SHIB": 0.54,
		},
		"SOL": {
			"AVAX": 0.78, "ADA": 0.70, "DOT": 0.71, "LINK": 0.66,
		},
		"UNI": {
			"AAVE": 0.82, "LINK": 0.72,
		},
		"DOGE": {
			"SHIB": 0.85, "PEPE": 0.75,
		},
		"SHIB": {
			"PEPE": 0.78,
		},
	}
}

// defaultAssetCategories - категории активов для лимита концентрации
func defaultAssetCategories() map[string]string {
	return map[string]string{
		"BTC": "major", "ETH": "major",
		"SOL": "layer1", "BNB": "layer1", "AVAX": "layer1",
		"ADA": "layer1", "DOT": "layer1", "NEAR": "layer1", "APT": "layer1",
		"LINK": "defi", "UNI": "defi", "AAVE": "defi", "MKR": "defi",
		"DOGE": "meme", "SHIB": "meme", "PEPE": "meme", "WIF": "meme",
	}
}
