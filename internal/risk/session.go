package risk

import (
	"fmt"
	"time"
)

// Сессионные ограничения: не открываем позиции в окно суточного
// ролловера (фандинг, тонкая ликвидность) и на выходных.

// SessionCheck - результат сессионной проверки
type SessionCheck struct {
	Allowed bool
	Reason  string
}

// CheckSession проверяет, можно ли открывать позицию в момент now
//
// Блокируются:
//   - окно 00:00 UTC +/- RolloverWindow (суточный ролловер)
//   - пятница 21:00 UTC - воскресенье 22:00 UTC (если weekendBlock)
func CheckSession(now time.Time, weekendBlock bool, cfg Params) SessionCheck {
	utc := now.UTC()

	// Окно суточного ролловера
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	sinceMidnight := utc.Sub(midnight)
	untilMidnight := midnight.Add(24 * time.Hour).Sub(utc)

	if sinceMidnight < cfg.RolloverWindow || untilMidnight <= cfg.RolloverWindow {
		return SessionCheck{
			Allowed: false,
			Reason:  fmt.Sprintf("daily rollover window (00:00 UTC +/- %v)", cfg.RolloverWindow),
		}
	}

	if weekendBlock && isWeekend(utc) {
		return SessionCheck{Allowed: false, Reason: "weekend trading blocked (Fri 21:00 - Sun 22:00 UTC)"}
	}

	return SessionCheck{Allowed: true}
}

// isWeekend: пятница с 21:00 UTC до воскресенья 22:00 UTC
func isWeekend(utc time.Time) bool {
	switch utc.Weekday() {
	case time.Friday:
		return utc.Hour() >= 21
	case time.Saturday:
		return true
	case time.Sunday:
		return utc.Hour() < 22
	default:
		return false
	}
}
