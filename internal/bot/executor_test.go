package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"positionbot/internal/models"
)

// TestExecutorRejectsSecondOpen проверяет, что вторую позицию на ту же
// пару (user, symbol) открыть нельзя
func TestExecutorRejectsSecondOpen(t *testing.T) {
	h := newHarness(t)
	h.paper.SetPrice("BTCUSDT", 50000)

	req := OpenRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: 0.1, Leverage: 1, StopLoss: 49000, TakeProfit: 52000,
	}
	if _, err := h.exec.OpenPosition(context.Background(), req); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := h.exec.OpenPosition(context.Background(), req); !errors.Is(err, ErrPositionExists) {
		t.Errorf("second open err = %v, want ErrPositionExists", err)
	}

	// Другой символ того же пользователя открывается свободно
	h.paper.SetPrice("ETHUSDT", 3000)
	req.Symbol = "ETHUSDT"
	if _, err := h.exec.OpenPosition(context.Background(), req); err != nil {
		t.Errorf("open on another symbol: %v", err)
	}
}

// TestExecutorConcurrentOpensSingleFill проверяет сериализацию двух
// одновременных открытий одной пары: исполниться должно ровно одно
func TestExecutorConcurrentOpensSingleFill(t *testing.T) {
	h := newHarness(t)
	h.paper.SetPrice("BTCUSDT", 50000)

	req := OpenRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: 0.1, Leverage: 1, StopLoss: 49000, TakeProfit: 52000,
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.exec.OpenPosition(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var opened, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, ErrPositionBusy) || errors.Is(err, ErrPositionExists):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if opened != 1 || rejected != 1 {
		t.Errorf("opened/rejected = %d/%d, want 1/1", opened, rejected)
	}

	// На бирже ровно один вход исходного размера
	open, _ := h.paper.GetOpenPositions(context.Background())
	if len(open) != 1 {
		t.Fatalf("exchange positions = %d, want 1", len(open))
	}
	if open[0].Size != 0.1 {
		t.Errorf("exchange size = %v, want 0.1 (double fill)", open[0].Size)
	}
}

// TestExecutorOpenBlockedByClose проверяет, что открытие ждёт снятия
// блокировки, которую держит закрытие той же пары
func TestExecutorOpenBlockedByClose(t *testing.T) {
	h := newHarness(t)
	h.paper.SetPrice("BTCUSDT", 50000)

	h.locks.TryAcquire(PositionKey(1, "BTCUSDT"), "api")
	_, err := h.exec.OpenPosition(context.Background(), OpenRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: 0.1, Leverage: 1,
	})
	if err != ErrPositionBusy {
		t.Errorf("err = %v, want ErrPositionBusy", err)
	}
	if _, ok := h.registry.FindOpen(1, "BTCUSDT"); ok {
		t.Error("position registered despite held lock")
	}
}

// TestExecutorLostResponseNotResubmitted проверяет сверку статуса ордера
// перед повтором: исполненный ордер с потерянным ответом не дублируется
func TestExecutorLostResponseNotResubmitted(t *testing.T) {
	h := newHarness(t)
	h.paper.SetPrice("BTCUSDT", 50000)

	// Ордер исполняется, но ответ теряется по timeout'у
	h.paper.LoseNextResponses(1)
	p, err := h.exec.OpenPosition(context.Background(), OpenRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: models.SideLong,
		Quantity: 0.1, Leverage: 1, StopLoss: 49000, TakeProfit: 52000,
	})
	if err != nil {
		t.Fatalf("open with lost response: %v", err)
	}
	if p.Quantity != 0.1 {
		t.Errorf("position qty = %v, want 0.1", p.Quantity)
	}

	// Слепой повтор удвоил бы позицию на бирже
	open, _ := h.paper.GetOpenPositions(context.Background())
	if len(open) != 1 {
		t.Fatalf("exchange positions = %d, want 1", len(open))
	}
	if open[0].Size != 0.1 {
		t.Errorf("exchange size = %v, want 0.1 (order resubmitted)", open[0].Size)
	}

	// Закрытие с потерянным ответом тоже восстанавливается по статусу
	h.paper.LoseNextResponses(1)
	if _, err := h.exec.ClosePosition(context.Background(), p.ID, models.CloseReasonManual, "api"); err != nil {
		t.Fatalf("close with lost response: %v", err)
	}
	got, _ := h.registry.Get(p.ID)
	if got.State != models.PositionStateClosed {
		t.Errorf("state = %s, want closed", got.State)
	}
	open, _ = h.paper.GetOpenPositions(context.Background())
	if len(open) != 0 {
		t.Errorf("exchange positions after close = %d, want 0", len(open))
	}
}
