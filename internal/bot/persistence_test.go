package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"positionbot/internal/models"
)

type stubPositionStore struct {
	mu           sync.Mutex
	upserts      [][]*models.Position
	open         []*models.Position
	closedExcept [][]string
}

func (s *stubPositionStore) UpsertBatch(ctx context.Context, positions []*models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]*models.Position, len(positions))
	copy(batch, positions)
	s.upserts = append(s.upserts, batch)
	return nil
}

func (s *stubPositionStore) ListOpen(ctx context.Context) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open, nil
}

func (s *stubPositionStore) MarkClosedExcept(ctx context.Context, openIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(openIDs))
	copy(ids, openIDs)
	s.closedExcept = append(s.closedExcept, ids)
	return nil
}

func TestSynchronizerFlushDirty(t *testing.T) {
	registry := NewRegistry()
	store := &stubPositionStore{}
	syncer := NewSynchronizer(registry, store, time.Second)

	registry.Add(testPosition("p1"))
	registry.Add(testPosition("p2"))

	if err := syncer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(store.upserts) != 1 || len(store.upserts[0]) != 2 {
		t.Fatalf("upserts = %v", store.upserts)
	}
	if n := len(registry.DirtySnapshot()); n != 0 {
		t.Errorf("dirty after flush = %d, want 0", n)
	}

	// Без изменений повторный flush ничего не пишет
	if err := syncer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(store.upserts) != 1 {
		t.Errorf("flush without changes wrote %d batches", len(store.upserts))
	}
}

// TestSynchronizerRemovesFlushedTerminal проверяет, что закрытая позиция
// удаляется из реестра только после записи в БД
func TestSynchronizerRemovesFlushedTerminal(t *testing.T) {
	registry := NewRegistry()
	store := &stubPositionStore{}
	syncer := NewSynchronizer(registry, store, time.Second)

	registry.Add(testPosition("p1"))
	registry.Update("p1", func(p *models.Position) error {
		if err := Transition(p, models.PositionStateClosing); err != nil {
			return err
		}
		return Transition(p, models.PositionStateClosed)
	})

	if err := syncer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Закрытая позиция записана и выгружена из реестра
	if registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", registry.Count())
	}
	last := store.upserts[len(store.upserts)-1]
	if last[0].State != models.PositionStateClosed {
		t.Errorf("flushed state = %s, want closed", last[0].State)
	}

	// И не попала в список живых для MarkClosedExcept
	lastIDs := store.closedExcept[len(store.closedExcept)-1]
	if len(lastIDs) != 0 {
		t.Errorf("open ids = %v, want empty", lastIDs)
	}
}

func TestSynchronizerLoadOnStartup(t *testing.T) {
	registry := NewRegistry()
	store := &stubPositionStore{
		open: []*models.Position{testPosition("p1"), testPosition("p2")},
	}
	syncer := NewSynchronizer(registry, store, time.Second)

	n, err := syncer.LoadOnStartup(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 2 || registry.Count() != 2 {
		t.Errorf("restored = %d, registry = %d, want 2/2", n, registry.Count())
	}
	// Восстановленные позиции чистые - нечего писать обратно
	if len(registry.DirtySnapshot()) != 0 {
		t.Error("restored positions must not be dirty")
	}
}
