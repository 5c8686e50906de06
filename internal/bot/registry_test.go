package bot

import (
	"errors"
	"testing"
	"time"

	"positionbot/internal/models"
)

func testPosition(id string) *models.Position {
	return &models.Position{
		ID:               id,
		UserID:           1,
		Symbol:           "BTCUSDT",
		Side:             models.SideLong,
		EntryPrice:       50000,
		Quantity:         0.1,
		OriginalQuantity: 0.1,
		Leverage:         1,
		State:            models.PositionStateActive,
		OpenedAt:         time.Now().UTC(),
	}
}

func TestRegistryAddGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Add(testPosition("p1")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(testPosition("p1")); !errors.Is(err, ErrPositionExists) {
		t.Errorf("duplicate Add = %v, want ErrPositionExists", err)
	}

	got, err := r.Get("p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %s", got.Symbol)
	}
	if !got.Dirty {
		t.Error("added position must be dirty until flushed")
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("Get(missing) = %v, want ErrPositionNotFound", err)
	}
}

// TestRegistryGetReturnsCopy проверяет, что мутация результата Get
// не видна в реестре
func TestRegistryGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Add(testPosition("p1"))

	got, _ := r.Get("p1")
	got.StopLoss = 12345

	again, _ := r.Get("p1")
	if again.StopLoss == 12345 {
		t.Error("Get must return a copy, registry was mutated directly")
	}
}

func TestRegistryUpdate(t *testing.T) {
	r := NewRegistry()
	r.Add(testPosition("p1"))
	r.ClearDirty("p1", time.Now().UTC().Add(time.Second))

	err := r.Update("p1", func(p *models.Position) error {
		p.StopLoss = 49000
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := r.Get("p1")
	if got.StopLoss != 49000 {
		t.Errorf("StopLoss = %v, want 49000", got.StopLoss)
	}
	if !got.Dirty {
		t.Error("Update must mark position dirty")
	}
}

// TestRegistryUpdateRollback проверяет откат мутации при ошибке fn
func TestRegistryUpdateRollback(t *testing.T) {
	r := NewRegistry()
	r.Add(testPosition("p1"))

	wantErr := errors.New("boom")
	err := r.Update("p1", func(p *models.Position) error {
		p.StopLoss = 49000
		p.State = models.PositionStateClosed
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Update = %v, want boom", err)
	}

	got, _ := r.Get("p1")
	if got.StopLoss != 0 || got.State != models.PositionStateActive {
		t.Errorf("mutation not rolled back: sl=%v state=%s", got.StopLoss, got.State)
	}
}

func TestRegistryDirtyLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Add(testPosition("p1"))

	dirty := r.DirtySnapshot()
	if len(dirty) != 1 {
		t.Fatalf("dirty = %d, want 1", len(dirty))
	}

	r.ClearDirty("p1", dirty[0].UpdatedAt)
	if len(r.DirtySnapshot()) != 0 {
		t.Error("ClearDirty did not reset the flag")
	}

	// Мутация после снапшота не даёт сбросить флаг задним числом
	r.Update("p1", func(p *models.Position) error {
		p.StopLoss = 1
		return nil
	})
	snap := r.DirtySnapshot()
	r.Update("p1", func(p *models.Position) error {
		p.StopLoss = 2
		return nil
	})
	time.Sleep(time.Millisecond)
	r.ClearDirty("p1", snap[0].UpdatedAt)
	if len(r.DirtySnapshot()) != 1 {
		t.Error("flag cleared despite newer mutation")
	}
}

func TestRegistryRestoreNotDirty(t *testing.T) {
	r := NewRegistry()
	if err := r.Restore(testPosition("p1")); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(r.DirtySnapshot()) != 0 {
		t.Error("restored position must not be dirty")
	}
}

func TestRegistrySnapshotsAndCounts(t *testing.T) {
	r := NewRegistry()
	r.Add(testPosition("p1"))

	p2 := testPosition("p2")
	p2.UserID = 2
	p2.State = models.PositionStateClosed
	r.Add(p2)

	if n := r.Count(); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
	if n := len(r.SnapshotOpen()); n != 1 {
		t.Errorf("SnapshotOpen = %d, want 1 (closed excluded)", n)
	}
	if n := len(r.ListByUser(2)); n != 1 {
		t.Errorf("ListByUser(2) = %d, want 1", n)
	}

	counts := r.CountByState()
	if counts[models.PositionStateActive] != 1 || counts[models.PositionStateClosed] != 1 {
		t.Errorf("CountByState = %v", counts)
	}

	r.Remove("p1")
	if n := r.Count(); n != 1 {
		t.Errorf("Count after Remove = %d, want 1", n)
	}
}
