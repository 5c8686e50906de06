package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckSessionRolloverWindow(t *testing.T) {
	cfg := DefaultParams()

	// Вторник 00:15 UTC - внутри окна ролловера
	inWindow := time.Date(2026, 8, 18, 0, 15, 0, 0, time.UTC)
	check := CheckSession(inWindow, false, cfg)
	assert.False(t, check.Allowed)

	// Вторник 23:45 UTC - за 15 минут до полуночи, тоже блок
	beforeMidnight := time.Date(2026, 8, 18, 23, 45, 0, 0, time.UTC)
	check = CheckSession(beforeMidnight, false, cfg)
	assert.False(t, check.Allowed)

	// Вторник 12:00 UTC - разрешено
	midday := time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)
	check = CheckSession(midday, false, cfg)
	assert.True(t, check.Allowed)
}

func TestCheckSessionWeekend(t *testing.T) {
	cfg := DefaultParams()

	friday2030 := time.Date(2026, 8, 21, 20, 30, 0, 0, time.UTC)
	friday2130 := time.Date(2026, 8, 21, 21, 30, 0, 0, time.UTC)
	saturday := time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)
	sunday2130 := time.Date(2026, 8, 23, 21, 30, 0, 0, time.UTC)
	sunday2230 := time.Date(2026, 8, 23, 22, 30, 0, 0, time.UTC)

	assert.True(t, CheckSession(friday2030, true, cfg).Allowed)
	assert.False(t, CheckSession(friday2130, true, cfg).Allowed)
	assert.False(t, CheckSession(saturday, true, cfg).Allowed)
	assert.False(t, CheckSession(sunday2130, true, cfg).Allowed)
	assert.True(t, CheckSession(sunday2230, true, cfg).Allowed)

	// Блок выходных выключен - суббота разрешена
	assert.True(t, CheckSession(saturday, false, cfg).Allowed)
}
