package bot

import (
	"context"
	"sync"
	"time"

	"positionbot/internal/models"
	"positionbot/pkg/utils"
)

// PositionStore - персистентное хранилище позиций
//
// Реализуется пакетом internal/repository поверх PostgreSQL.
type PositionStore interface {
	// UpsertBatch записывает пачку позиций одной транзакцией
	UpsertBatch(ctx context.Context, positions []*models.Position) error

	// ListOpen возвращает незакрытые позиции (для восстановления)
	ListOpen(ctx context.Context) ([]*models.Position, error)

	// MarkClosedExcept закрывает в БД позиции, которых нет среди openIDs.
	// Подчищает строки, оставшиеся от упавшего процесса.
	MarkClosedExcept(ctx context.Context, openIDs []string) error
}

// Synchronizer - фоновая синхронизация реестра с БД
//
// Реестр первичен: БД догоняет асинхронно. Каждый интервал
// синхронизатор забирает dirty-позиции, пишет их батчем и сбрасывает
// флаг. Позиции, закрытые в БД, но отсутствующие в реестре,
// помечаются закрытыми. При остановке выполняется финальный flush.
type Synchronizer struct {
	registry *Registry
	store    PositionStore
	interval time.Duration

	// финальный flush не должен пересекаться с периодическим
	mu sync.Mutex
}

// NewSynchronizer создаёт синхронизатор
func NewSynchronizer(registry *Registry, store PositionStore, interval time.Duration) *Synchronizer {
	return &Synchronizer{
		registry: registry,
		store:    store,
		interval: interval,
	}
}

// LoadOnStartup восстанавливает реестр из БД после рестарта
//
// Возвращает количество восстановленных позиций. Фактическое
// существование позиций на бирже проверит Reconciler.
func (s *Synchronizer) LoadOnStartup(ctx context.Context) (int, error) {
	positions, err := s.store.ListOpen(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, p := range positions {
		if err := s.registry.Restore(p); err != nil {
			utils.Log.Warnw("position restore skipped", "id", p.ID, "error", err)
			continue
		}
		restored++
	}

	utils.Log.Infow("registry restored from database", "positions", restored)
	return restored, nil
}

// Run запускает периодический flush до отмены контекста
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Финальный flush со свежим контекстом: изменения в памяти
			// нельзя терять при остановке
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.Flush(flushCtx)
			cancel()
			if err != nil {
				utils.Log.Errorw("final flush failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				FlushErrors.Inc()
				utils.Log.Errorw("flush failed", "error", err)
			}
		}
	}
}

// Flush записывает dirty-позиции и подчищает осиротевшие строки
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()

	dirty := s.registry.DirtySnapshot()
	DirtyPositions.Set(float64(len(dirty)))

	if len(dirty) > 0 {
		if err := s.store.UpsertBatch(ctx, dirty); err != nil {
			return err
		}
		for _, p := range dirty {
			s.registry.ClearDirty(p.ID, p.UpdatedAt)
		}
	}

	// Строки, открытые в БД, но отсутствующие в реестре, закрываются.
	// Терминальные позиции удаляются из реестра после записи.
	openIDs := make([]string, 0)
	for _, p := range s.registry.Snapshot() {
		if IsTerminal(p.State) && !p.Dirty {
			s.registry.Remove(p.ID)
			continue
		}
		openIDs = append(openIDs, p.ID)
	}
	if err := s.store.MarkClosedExcept(ctx, openIDs); err != nil {
		return err
	}

	FlushDuration.Observe(float64(time.Since(started).Milliseconds()))
	return nil
}
