package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperExchange - биржа-симулятор для разработки и тестов
//
// Цены задаются вручную через SetPrice, ордера исполняются мгновенно
// по текущей цене. Потокобезопасна.
type PaperExchange struct {
	mu        sync.RWMutex
	prices    map[string]float64
	klines    map[string][]Kline // ключ: symbol + ":" + interval
	positions map[string]*OpenPosition
	orders    map[string]*Order // ключ: linkID
	balance   float64
	limits    map[string]*Limits

	// FailNext заставляет следующий ордер вернуть ошибку (для тестов retry)
	failNext int

	// LoseNext: ордер исполняется, но ответ "теряется" (симуляция timeout
	// после исполнения - для тестов сверки статуса перед повтором)
	loseNext int
}

// NewPaperExchange создаёт симулятор с указанным балансом
func NewPaperExchange(balance float64) *PaperExchange {
	return &PaperExchange{
		prices:    make(map[string]float64),
		klines:    make(map[string][]Kline),
		positions: make(map[string]*OpenPosition),
		orders:    make(map[string]*Order),
		limits:    make(map[string]*Limits),
		balance:   balance,
	}
}

// GetName возвращает имя биржи
func (p *PaperExchange) GetName() string {
	return "paper"
}

// SetPrice выставляет текущую цену символа
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// SetKlines задаёт свечи для символа и интервала
func (p *PaperExchange) SetKlines(symbol, interval string, klines []Kline) {
	p.mu.Lock()
	p.klines[symbol+":"+interval] = klines
	p.mu.Unlock()
}

// SetLimits задаёт лимиты символа
func (p *PaperExchange) SetLimits(symbol string, limits *Limits) {
	p.mu.Lock()
	p.limits[symbol] = limits
	p.mu.Unlock()
}

// FailNextOrders заставляет следующие n ордеров вернуть временную ошибку
func (p *PaperExchange) FailNextOrders(n int) {
	p.mu.Lock()
	p.failNext = n
	p.mu.Unlock()
}

// LoseNextResponses исполняет следующие n ордеров, но возвращает
// временную ошибку вместо ответа - как будто запрос ушёл, а ответ
// потерялся по timeout'у
func (p *PaperExchange) LoseNextResponses(n int) {
	p.mu.Lock()
	p.loseNext = n
	p.mu.Unlock()
}

// GetPrice получает текущую цену символа
func (p *PaperExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.prices[symbol]
	if !ok {
		return 0, &ExchangeError{Exchange: "paper", Code: "no_price", Message: fmt.Sprintf("no price for %s", symbol)}
	}
	return price, nil
}

// GetKlines получает заданные свечи
func (p *PaperExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	klines, ok := p.klines[symbol+":"+interval]
	if !ok {
		return nil, &ExchangeError{Exchange: "paper", Code: "no_klines", Message: fmt.Sprintf("no klines for %s %s", symbol, interval)}
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	out := make([]Kline, len(klines))
	copy(out, klines)
	return out, nil
}

// GetBalance получает баланс аккаунта
func (p *PaperExchange) GetBalance(ctx context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance, nil
}

// PlaceMarketOrder исполняет ордер мгновенно по текущей цене
func (p *PaperExchange) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64, linkID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext > 0 {
		p.failNext--
		return nil, &ExchangeError{Exchange: "paper", Code: "simulated", Message: "simulated failure", Transient: true}
	}

	price, ok := p.prices[symbol]
	if !ok {
		return nil, &ExchangeError{Exchange: "paper", Code: "no_price", Message: fmt.Sprintf("no price for %s", symbol)}
	}

	posSide := "long"
	if side == SideSell {
		posSide = "short"
	}
	key := symbol + ":" + posSide
	if pos, exists := p.positions[key]; exists {
		pos.Size += qty
		pos.MarkPrice = price
		pos.UpdatedAt = time.Now()
	} else {
		p.positions[key] = &OpenPosition{
			Symbol:     symbol,
			Side:       posSide,
			Size:       qty,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   1,
			UpdatedAt:  time.Now(),
		}
	}

	order := p.recordOrder(symbol, side, qty, price, linkID)
	if p.loseNext > 0 {
		p.loseNext--
		return nil, &ExchangeError{Exchange: "paper", Code: "timeout", Message: "response lost after fill", Transient: true}
	}
	return order, nil
}

// ClosePosition уменьшает или закрывает позицию по текущей цене
func (p *PaperExchange) ClosePosition(ctx context.Context, symbol, side string, qty float64, linkID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext > 0 {
		p.failNext--
		return nil, &ExchangeError{Exchange: "paper", Code: "simulated", Message: "simulated failure", Transient: true}
	}

	price, ok := p.prices[symbol]
	if !ok {
		return nil, &ExchangeError{Exchange: "paper", Code: "no_price", Message: fmt.Sprintf("no price for %s", symbol)}
	}

	key := symbol + ":" + side
	if pos, ok := p.positions[key]; ok {
		pos.Size -= qty
		if pos.Size <= 0 {
			delete(p.positions, key)
		}
	}

	order := p.recordOrder(symbol, CloseSide(side), qty, price, linkID)
	if p.loseNext > 0 {
		p.loseNext--
		return nil, &ExchangeError{Exchange: "paper", Code: "timeout", Message: "response lost after fill", Transient: true}
	}
	return order, nil
}

// GetOrderByLink возвращает исполненный ордер по клиентскому ID
func (p *PaperExchange) GetOrderByLink(ctx context.Context, symbol, linkID string) (*Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, ok := p.orders[linkID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

// recordOrder сохраняет исполненный ордер. Вызывается под lock'ом.
func (p *PaperExchange) recordOrder(symbol, side string, qty, price float64, linkID string) *Order {
	if linkID == "" {
		linkID = uuid.NewString()
	}
	order := &Order{
		ID:           uuid.NewString(),
		LinkID:       linkID,
		Symbol:       symbol,
		Side:         side,
		Quantity:     qty,
		FilledQty:    qty,
		AvgFillPrice: price,
		Status:       OrderStatusFilled,
		CreatedAt:    time.Now(),
	}
	p.orders[linkID] = order
	return order
}

// GetOpenPositions получает открытые позиции симулятора
func (p *PaperExchange) GetOpenPositions(ctx context.Context) ([]*OpenPosition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*OpenPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		cp := *pos
		if price, ok := p.prices[pos.Symbol]; ok {
			cp.MarkPrice = price
		}
		out = append(out, &cp)
	}
	return out, nil
}

// GetLimits получает лимиты символа (дефолтные если не заданы)
func (p *PaperExchange) GetLimits(ctx context.Context, symbol string) (*Limits, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if limits, ok := p.limits[symbol]; ok {
		cp := *limits
		return &cp, nil
	}
	return &Limits{
		Symbol:      symbol,
		MinOrderQty: 0.001,
		MaxOrderQty: 1000000,
		QtyStep:     0.001,
		PriceStep:   0.01,
		MaxLeverage: 100,
	}, nil
}

// Close закрывает симулятор (no-op)
func (p *PaperExchange) Close() error {
	return nil
}
