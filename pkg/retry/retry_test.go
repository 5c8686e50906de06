package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSuccessFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, DefaultConfig())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	cfg := Config{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 1.0}

	wantErr := errors.New("boom")
	err := Do(context.Background(), func() error {
		calls++
		return wantErr
	}, cfg)

	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoPermanentErrorStops(t *testing.T) {
	calls := 0
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.RetryIf = IsRetryable

	err := Do(context.Background(), func() error {
		calls++
		return Permanent(errors.New("invalid input"))
	}, cfg)

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", calls)
	}
}

func TestDoContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	cfg := Config{MaxRetries: 10, InitialDelay: 50 * time.Millisecond, Multiplier: 1.0}

	err := Do(ctx, func() error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("transient")
	}, cfg)

	if err == nil {
		t.Fatal("expected error after cancel")
	}
	if calls > 3 {
		t.Errorf("retries should stop after cancel, got %d calls", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, Config{MaxRetries: 5, InitialDelay: time.Millisecond, Multiplier: 1.0})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
}

func TestCalculateDelayBounds(t *testing.T) {
	cfg := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
	cfg.validate()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond}, // ограничено MaxDelay
		{10, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		got := cfg.calculateDelay(tt.attempt)
		if got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestAutoCloseConfigDelays(t *testing.T) {
	cfg := AutoCloseConfig()
	cfg.validate()

	// Детерминированные задержки: 500ms, 1s, 2s
	if d := cfg.calculateDelay(0); d != 500*time.Millisecond {
		t.Errorf("attempt 0: expected 500ms, got %v", d)
	}
	if d := cfg.calculateDelay(1); d != time.Second {
		t.Errorf("attempt 1: expected 1s, got %v", d)
	}
	if d := cfg.calculateDelay(2); d != 2*time.Second {
		t.Errorf("attempt 2: expected 2s, got %v", d)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil must not be retryable")
	}
	if IsRetryable(Permanent(errors.New("x"))) {
		t.Error("permanent error must not be retryable")
	}
	if !IsRetryable(Temporary(errors.New("x"))) {
		t.Error("temporary error must be retryable")
	}
	// Обёрнутая permanent ошибка распознаётся через errors.As
	wrapped := errors.Join(errors.New("ctx"), Permanent(errors.New("x")))
	if IsRetryable(wrapped) {
		t.Error("wrapped permanent error must not be retryable")
	}
}
