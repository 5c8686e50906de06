package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreaker - защита от каскадных сбоев при работе с внешним API
//
// Состояния:
//   - closed:    нормальная работа, запросы проходят
//   - open:      порог ошибок превышен, запросы отклоняются сразу
//   - half-open: по истечении таймаута пропускается ограниченное число
//     пробных запросов; успех закрывает breaker, ошибка снова открывает
//
// Использование:
//
//	cb := NewCircuitBreaker("exchange", DefaultCircuitConfig())
//	err := cb.Execute(func() error { return client.Do(req) })
//	if errors.Is(err, ErrCircuitOpen) { ... } // быстрый отказ
type CircuitBreaker struct {
	name string
	cfg  CircuitConfig

	mu           sync.Mutex
	state        CircuitState
	failures     int
	successes    int // подряд в half-open
	lastFailure  time.Time
	openedAt     time.Time
	halfOpenUsed int // пробных запросов выдано в half-open
}

// CircuitState - состояние breaker'а
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitConfig - параметры circuit breaker'а
type CircuitConfig struct {
	FailureThreshold int           // ошибок подряд до открытия
	RecoveryTimeout  time.Duration // сколько держать open до half-open
	HalfOpenMaxCalls int           // пробных запросов в half-open
	SuccessThreshold int           // успехов подряд для закрытия
}

// DefaultCircuitConfig возвращает конфигурацию по умолчанию
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 2,
		SuccessThreshold: 2,
	}
}

// ErrCircuitOpen возвращается при отклонении запроса открытым breaker'ом
var ErrCircuitOpen = errors.New("circuit breaker is open")

// NewCircuitBreaker создаёт новый circuit breaker
func NewCircuitBreaker(name string, cfg CircuitConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}

	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: CircuitClosed,
	}
}

// Execute выполняет fn под защитой breaker'а
//
// Возвращает ErrCircuitOpen (обёрнутый с именем breaker'а) если запрос
// отклонён без выполнения.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}

	err := fn()
	cb.record(err == nil)
	return err
}

// allow решает, пропускать ли запрос, и выполняет переход open → half-open
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			cb.halfOpenUsed = 1
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenUsed < cb.cfg.HalfOpenMaxCalls {
			cb.halfOpenUsed++
			return true
		}
		return false
	}

	return false
}

// record фиксирует результат запроса и выполняет переходы состояний
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		switch cb.state {
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.state = CircuitClosed
				cb.failures = 0
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitHalfOpen:
		// Пробный запрос упал - снова открываемся
		cb.open()
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
		}
	}
}

// open переводит breaker в открытое состояние (вызывается под lock'ом)
func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.openedAt = time.Now()
	cb.successes = 0
}

// State возвращает текущее состояние breaker'а
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Ленивый переход open → half-open виден и без запросов
	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Name возвращает имя breaker'а
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Failures возвращает текущий счётчик ошибок подряд
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset принудительно закрывает breaker (ручное восстановление)
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenUsed = 0
}
