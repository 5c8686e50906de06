package bot

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// PositionKey - ключ блокировки по идентичности позиции (user, symbol)
//
// Открытие и закрытие конкурируют именно за пару (user, symbol):
// позиция, открываемая в этот момент, ещё не имеет ID в реестре,
// поэтому ключом не может быть ID.
func PositionKey(userID int64, symbol string) string {
	return strconv.FormatInt(userID, 10) + "/" + symbol
}

// LockManager - эксклюзивные блокировки на позицию
//
// Ордер-операции (открытие, закрытие, частичное закрытие,
// авто-закрытие) должны выполняться по одной на пару (user, symbol):
// тик монитора и API-запрос не могут одновременно отправить два
// конфликтующих ордера. Блокировка помечена владельцем (monitor, api,
// recovery) и временем захвата, зависшие блокировки снимает
// CleanupExpired.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*positionLock
}

type positionLock struct {
	owner      string
	acquiredAt time.Time
}

// NewLockManager создаёт менеджер блокировок
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*positionLock),
	}
}

// TryAcquire пытается захватить блокировку без ожидания
func (m *LockManager) TryAcquire(key, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.locks[key]; held {
		return false
	}
	m.locks[key] = &positionLock{owner: owner, acquiredAt: time.Now()}
	return true
}

// Acquire ждёт блокировку до отмены контекста
func (m *LockManager) Acquire(ctx context.Context, key, owner string) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.TryAcquire(key, owner) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release снимает блокировку; чужую блокировку снять нельзя
func (m *LockManager) Release(key, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, held := m.locks[key]
	if !held || l.owner != owner {
		return false
	}
	delete(m.locks, key)
	return true
}

// IsLocked проверяет, захвачена ли позиция
func (m *LockManager) IsLocked(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, held := m.locks[key]
	return held
}

// Holder возвращает владельца блокировки
func (m *LockManager) Holder(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, held := m.locks[key]
	if !held {
		return "", false
	}
	return l.owner, true
}

// CleanupExpired снимает блокировки старше maxAge, возвращает количество снятых.
// Зависшая блокировка означает упавшую горутину - пишем в лог и метрику.
func (m *LockManager) CleanupExpired(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, l := range m.locks {
		if l.acquiredAt.Before(cutoff) {
			delete(m.locks, id)
			removed++
			RecordStaleLock(l.owner)
		}
	}
	return removed
}
