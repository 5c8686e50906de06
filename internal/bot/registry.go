package bot

import (
	"errors"
	"sync"
	"time"

	"positionbot/internal/models"
)

var (
	ErrPositionNotFound = errors.New("position not found in registry")
	ErrPositionExists   = errors.New("position already registered")
)

// Registry - in-memory реестр отслеживаемых позиций
//
// Первичное хранилище: мониторинг, API и синхронизатор работают
// с реестром, БД догоняет асинхронно. Любая мутация позиции идёт
// через Update, который держит write lock и выставляет Dirty -
// прямых указателей наружу реестр не отдаёт, только копии.
type Registry struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		positions: make(map[string]*models.Position),
	}
}

// Add регистрирует новую позицию
func (r *Registry) Add(p *models.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.positions[p.ID]; ok {
		return ErrPositionExists
	}

	cp := *p
	cp.Dirty = true
	cp.UpdatedAt = time.Now().UTC()
	r.positions[p.ID] = &cp

	UpdatePositionGauges(r.countByStateLocked())
	return nil
}

// Restore регистрирует позицию из БД без dirty-флага (рестарт)
func (r *Registry) Restore(p *models.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.positions[p.ID]; ok {
		return ErrPositionExists
	}

	cp := *p
	cp.Dirty = false
	r.positions[p.ID] = &cp

	UpdatePositionGauges(r.countByStateLocked())
	return nil
}

// Get возвращает копию позиции по ID
func (r *Registry) Get(id string) (*models.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.positions[id]
	if !ok {
		return nil, ErrPositionNotFound
	}
	cp := *p
	return &cp, nil
}

// Update мутирует позицию под write lock'ом
//
// fn получает единственный живой экземпляр; после fn позиция
// помечается dirty для синхронизатора. Ошибка fn откатывает мутацию.
func (r *Registry) Update(id string, fn func(p *models.Position) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.positions[id]
	if !ok {
		return ErrPositionNotFound
	}

	backup := *p
	if err := fn(p); err != nil {
		*p = backup
		return err
	}

	p.Dirty = true
	p.UpdatedAt = time.Now().UTC()

	UpdatePositionGauges(r.countByStateLocked())
	return nil
}

// Remove удаляет позицию из реестра (после терминального состояния)
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.positions, id)
	UpdatePositionGauges(r.countByStateLocked())
}

// Snapshot возвращает копии всех позиций
func (r *Registry) Snapshot() []*models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Position, 0, len(r.positions))
	for _, p := range r.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// SnapshotOpen возвращает копии позиций в немертвых состояниях
func (r *Registry) SnapshotOpen() []*models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Position, 0, len(r.positions))
	for _, p := range r.positions {
		if !IsOpen(p.State) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// FindOpen возвращает открытую позицию пользователя по символу
//
// Идентичность позиции - пара (user, symbol): больше одной открытой
// позиции на символ у пользователя быть не может.
func (r *Registry) FindOpen(userID int64, symbol string) (*models.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.positions {
		if p.UserID == userID && p.Symbol == symbol && IsOpen(p.State) {
			cp := *p
			return &cp, true
		}
	}
	return nil, false
}

// ListByUser возвращает копии позиций пользователя
func (r *Registry) ListByUser(userID int64) []*models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Position
	for _, p := range r.positions {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// DirtySnapshot возвращает копии позиций с невыгруженными изменениями
func (r *Registry) DirtySnapshot() []*models.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Position
	for _, p := range r.positions {
		if p.Dirty {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// ClearDirty сбрасывает dirty-флаг после успешной записи в БД.
// Флаг не трогается, если позиция менялась после снятия снапшота.
func (r *Registry) ClearDirty(id string, asOf time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.positions[id]
	if !ok {
		return
	}
	if p.UpdatedAt.After(asOf) {
		return
	}
	p.Dirty = false
}

// Count возвращает количество позиций в реестре
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// CountByState возвращает количество позиций по состояниям
func (r *Registry) CountByState() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countByStateLocked()
}

func (r *Registry) countByStateLocked() map[string]int {
	counts := make(map[string]int)
	for _, p := range r.positions {
		counts[p.State]++
	}
	return counts
}
