package bot

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockMutualExclusion(t *testing.T) {
	m := NewLockManager()

	if !m.TryAcquire("p1", "monitor") {
		t.Fatal("first TryAcquire failed")
	}
	if m.TryAcquire("p1", "api") {
		t.Error("second TryAcquire must fail while held")
	}
	if !m.TryAcquire("p2", "api") {
		t.Error("lock on another position must succeed")
	}

	holder, held := m.Holder("p1")
	if !held || holder != "monitor" {
		t.Errorf("Holder = %q, %v", holder, held)
	}
}

func TestLockReleaseOwnerChecked(t *testing.T) {
	m := NewLockManager()
	m.TryAcquire("p1", "monitor")

	if m.Release("p1", "api") {
		t.Error("foreign owner must not release the lock")
	}
	if !m.IsLocked("p1") {
		t.Error("lock disappeared after foreign release")
	}

	if !m.Release("p1", "monitor") {
		t.Error("owner release failed")
	}
	if m.IsLocked("p1") {
		t.Error("lock still held after release")
	}
}

func TestLockAcquireWaits(t *testing.T) {
	m := NewLockManager()
	m.TryAcquire("p1", "monitor")

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- m.Acquire(ctx, "p1", "api")
	}()

	time.Sleep(30 * time.Millisecond)
	m.Release("p1", "monitor")

	if err := <-done; err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if holder, _ := m.Holder("p1"); holder != "api" {
		t.Errorf("holder = %q, want api", holder)
	}
}

func TestLockAcquireContextCancel(t *testing.T) {
	m := NewLockManager()
	m.TryAcquire("p1", "monitor")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Acquire(ctx, "p1", "api"); err == nil {
		t.Error("Acquire must fail when context expires")
	}
}

func TestLockCleanupExpired(t *testing.T) {
	m := NewLockManager()
	m.TryAcquire("p1", "monitor")
	m.TryAcquire("p2", "api")

	// Свежие блокировки не трогаются
	if n := m.CleanupExpired(time.Minute); n != 0 {
		t.Errorf("cleanup removed fresh locks: %d", n)
	}

	time.Sleep(20 * time.Millisecond)
	if n := m.CleanupExpired(10 * time.Millisecond); n != 2 {
		t.Errorf("cleanup = %d, want 2", n)
	}
	if m.IsLocked("p1") || m.IsLocked("p2") {
		t.Error("locks still held after cleanup")
	}
}

// TestLockConcurrentTryAcquire проверяет, что из N конкурентных
// попыток выигрывает ровно одна
func TestLockConcurrentTryAcquire(t *testing.T) {
	m := NewLockManager()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TryAcquire("p1", "worker") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}
