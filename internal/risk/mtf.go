package risk

import (
	"context"

	"positionbot/internal/exchange"
)

// Мульти-таймфрейм подтверждение направления: EMA9 против EMA21
// на старших таймфреймах. Неподтверждённый вход не блокируется,
// но размер режется вдвое.

// mtfTimeframes - таймфреймы для подтверждения тренда
var mtfTimeframes = []string{"4h", "1d"}

// MTFResult - результат мульти-таймфрейм проверки
type MTFResult struct {
	Confirmed bool
	Agree     int // таймфреймов, согласных с направлением
	Total     int
	SizeMult  float64 // 1.0 подтверждено, 0.5 нет
}

// EMA вычисляет экспоненциальную скользящую среднюю по ценам закрытия
func EMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		period = len(closes)
	}

	// SMA как стартовое значение
	sma := 0.0
	for _, c := range closes[:period] {
		sma += c
	}
	ema := sma / float64(period)

	k := 2.0 / (float64(period) + 1)
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
	}
	return ema
}

// ConfirmDirection проверяет согласие старших таймфреймов с направлением
//
// Таймфрейм согласен с long при EMA9 > EMA21, с short при EMA9 < EMA21.
// Подтверждение при доле согласных >= 0.5. Ошибка загрузки свечей
// по таймфрейму просто исключает его из голосования.
func ConfirmDirection(ctx context.Context, exch exchange.Exchange, symbol, side string) MTFResult {
	agree, total := 0, 0

	for _, tf := range mtfTimeframes {
		klines, err := exch.GetKlines(ctx, symbol, tf, 50)
		if err != nil || len(klines) < 21 {
			continue
		}
		total++

		closes := make([]float64, len(klines))
		for i, k := range klines {
			closes[i] = k.Close
		}

		fast := EMA(closes, 9)
		slow := EMA(closes, 21)

		bullish := fast > slow
		if (side == "long" && bullish) || (side == "short" && !bullish) {
			agree++
		}
	}

	result := MTFResult{Agree: agree, Total: total, SizeMult: 0.5}
	if total == 0 {
		// Нет данных - не подтверждаем, но и не блокируем
		return result
	}
	if float64(agree)/float64(total) >= 0.5 {
		result.Confirmed = true
		result.SizeMult = 1.0
	}
	return result
}
