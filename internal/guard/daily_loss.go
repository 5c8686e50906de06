package guard

import (
	"fmt"
	"sync"
	"time"
)

// DailyLossTracker - дневной стоп-лосс на пользователя
//
// Лимиты: процент капитала ИЛИ абсолютная сумма, количество сделок
// в день, убытки подряд. Дневной PNL и счётчик сделок сбрасываются
// на границе UTC суток; счётчик убытков подряд переживает сброс.
// После серии убытков дополнительно действует кулдаун.
type DailyLossTracker struct {
	mu    sync.RWMutex
	users map[int64]*dayState

	limits   DailyLimits
	cooldown time.Duration

	// для тестов
	now func() time.Time
}

// DailyLimits - лимиты дневного трекера
type DailyLimits struct {
	LossLimitPct      float64 // % капитала, дефолт 5
	LossLimitUSD      float64 // абсолютный лимит, дефолт 500
	MaxTradesPerDay   int     // дефолт 50
	ConsecutiveLosses int     // дефолт 5
	WarnFraction      float64 // предупреждение на этой доле лимита, дефолт 0.7
}

// dayState - состояние пользователя за текущие сутки
type dayState struct {
	day            time.Time // начало UTC суток
	pnl            float64   // накопленный PNL за день
	trades         int
	consecLosses   int       // переживает дневной сброс
	cooldownUntil  time.Time // кулдаун после серии убытков
	blockedReason  string    // причина дневной блокировки
}

// DailyStatus - снимок состояния для API/уведомлений
type DailyStatus struct {
	Day           time.Time `json:"day"`
	Pnl           float64   `json:"pnl"`
	Trades        int       `json:"trades"`
	ConsecLosses  int       `json:"consec_losses"`
	Blocked       bool      `json:"blocked"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	WarnActive    bool      `json:"warn_active"`
}

// NewDailyLossTracker создаёт трекер с указанными лимитами
func NewDailyLossTracker(limits DailyLimits, cooldown time.Duration) *DailyLossTracker {
	if limits.LossLimitPct == 0 {
		limits.LossLimitPct = 5
	}
	if limits.LossLimitUSD == 0 {
		limits.LossLimitUSD = 500
	}
	if limits.MaxTradesPerDay == 0 {
		limits.MaxTradesPerDay = 50
	}
	if limits.ConsecutiveLosses == 0 {
		limits.ConsecutiveLosses = 5
	}
	if limits.WarnFraction == 0 {
		limits.WarnFraction = 0.7
	}
	if cooldown == 0 {
		cooldown = 4 * time.Hour
	}

	return &DailyLossTracker{
		users:    make(map[int64]*dayState),
		limits:   limits,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// state возвращает состояние пользователя, выполняя дневной сброс.
// Вызывается под write lock'ом.
func (t *DailyLossTracker) state(userID int64) *dayState {
	today := t.today()

	st, ok := t.users[userID]
	if !ok {
		st = &dayState{day: today}
		t.users[userID] = st
		return st
	}

	if !st.day.Equal(today) {
		// Новые сутки: PNL и сделки обнуляются, убытки подряд - нет
		st.day = today
		st.pnl = 0
		st.trades = 0
		st.blockedReason = ""
	}
	return st
}

func (t *DailyLossTracker) today() time.Time {
	utc := t.now().UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

// RecordTrade фиксирует закрытую сделку пользователя
func (t *DailyLossTracker) RecordTrade(userID int64, pnl, capital float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(userID)
	st.pnl += pnl
	st.trades++

	if pnl < 0 {
		st.consecLosses++
		if st.consecLosses >= t.limits.ConsecutiveLosses {
			st.cooldownUntil = t.now().Add(t.cooldown)
			st.blockedReason = fmt.Sprintf("%d consecutive losses", st.consecLosses)
		}
	} else if pnl > 0 {
		st.consecLosses = 0
	}

	if reason := t.lossLimitBreached(st, capital); reason != "" {
		st.blockedReason = reason
	}
}

// lossLimitBreached проверяет дневные лимиты убытка. Под lock'ом.
func (t *DailyLossTracker) lossLimitBreached(st *dayState, capital float64) string {
	loss := -st.pnl
	if loss <= 0 {
		return ""
	}

	if capital > 0 && loss >= capital*t.limits.LossLimitPct/100 {
		return fmt.Sprintf("daily loss %.2f reached %.1f%% of capital", loss, t.limits.LossLimitPct)
	}
	if loss >= t.limits.LossLimitUSD {
		return fmt.Sprintf("daily loss %.2f reached absolute limit %.2f", loss, t.limits.LossLimitUSD)
	}
	return ""
}

// CanTrade проверяет, разрешено ли пользователю открывать позиции
//
// Блокировка действует до конца UTC суток; кулдаун после серии
// убытков может выходить за границу суток.
func (t *DailyLossTracker) CanTrade(userID int64, capital float64) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(userID)
	now := t.now()

	if now.Before(st.cooldownUntil) {
		return false, fmt.Sprintf("cooldown until %s", st.cooldownUntil.UTC().Format(time.RFC3339))
	}

	if reason := t.lossLimitBreached(st, capital); reason != "" {
		return false, reason
	}
	if st.blockedReason != "" {
		return false, st.blockedReason
	}

	if st.trades >= t.limits.MaxTradesPerDay {
		return false, fmt.Sprintf("daily trade limit %d reached", t.limits.MaxTradesPerDay)
	}

	return true, ""
}

// Status возвращает снимок состояния пользователя
func (t *DailyLossTracker) Status(userID int64, capital float64) DailyStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(userID)
	blocked := st.blockedReason != "" || t.now().Before(st.cooldownUntil)

	warnActive := false
	if loss := -st.pnl; loss > 0 && capital > 0 {
		limit := capital * t.limits.LossLimitPct / 100
		if t.limits.LossLimitUSD < limit {
			limit = t.limits.LossLimitUSD
		}
		warnActive = loss >= limit*t.limits.WarnFraction && loss < limit
	}

	return DailyStatus{
		Day:           st.day,
		Pnl:           st.pnl,
		Trades:        st.trades,
		ConsecLosses:  st.consecLosses,
		Blocked:       blocked,
		BlockedReason: st.blockedReason,
		CooldownUntil: st.cooldownUntil,
		WarnActive:    warnActive,
	}
}
