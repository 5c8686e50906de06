package exchange

import (
	"context"
	"errors"
	"time"
)

// ErrOrderNotFound возвращается GetOrderByLink, когда ордер с таким
// клиентским ID бирже неизвестен
var ErrOrderNotFound = errors.New("order not found")

// Exchange - единственный канонический интерфейс работы с биржей
//
// Весь движок (монитор, риск-движок, исполнитель) работает только
// через него. Конкретная площадка выбирается при старте, ветвления
// по биржам внутри движка нет.
type Exchange interface {
	// GetName возвращает имя биржи
	GetName() string

	// GetPrice получает текущую цену символа
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetKlines получает свечи для расчёта индикаторов
	// interval: "1h", "4h", "1d"
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)

	// GetBalance получает баланс аккаунта в USDT
	GetBalance(ctx context.Context) (float64, error)

	// PlaceMarketOrder размещает рыночный ордер.
	// linkID - клиентский ID ордера (идемпотентность retry): по нему
	// GetOrderByLink находит ордер, если ответ на размещение потерялся.
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64, linkID string) (*Order, error)

	// ClosePosition закрывает позицию (полностью или частично)
	ClosePosition(ctx context.Context, symbol, side string, qty float64, linkID string) (*Order, error)

	// GetOrderByLink возвращает ордер по клиентскому ID
	// (ErrOrderNotFound, если биржа такого ордера не видела)
	GetOrderByLink(ctx context.Context, symbol, linkID string) (*Order, error)

	// GetOpenPositions получает список открытых позиций на бирже
	GetOpenPositions(ctx context.Context) ([]*OpenPosition, error)

	// GetLimits получает торговые лимиты для символа
	GetLimits(ctx context.Context, symbol string) (*Limits, error)

	// Close закрывает соединения с биржей
	Close() error
}

// Kline представляет одну свечу
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Order представляет исполненный ордер
type Order struct {
	ID           string    `json:"id"`
	LinkID       string    `json:"link_id"` // клиентский ID (orderLinkId)
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // "buy" или "sell"
	Quantity     float64   `json:"quantity"`
	FilledQty    float64   `json:"filled_qty"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Status       string    `json:"status"` // "filled", "partial", "cancelled", "rejected"
	CreatedAt    time.Time `json:"created_at"`
}

// OpenPosition представляет открытую позицию на бирже (для сверки с реестром)
type OpenPosition struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // "long" или "short"
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Leverage      int       `json:"leverage"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Limits содержит торговые ограничения биржи
type Limits struct {
	Symbol      string  `json:"symbol"`
	MinOrderQty float64 `json:"min_order_qty"` // минимальный размер ордера
	MaxOrderQty float64 `json:"max_order_qty"` // максимальный размер ордера
	QtyStep     float64 `json:"qty_step"`      // шаг изменения количества (lot size)
	MinNotional float64 `json:"min_notional"`  // минимальная сумма сделки в USDT
	PriceStep   float64 `json:"price_step"`    // шаг изменения цены (tick size)
	MaxLeverage int     `json:"max_leverage"`
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange  string
	Code      string
	Message   string
	Transient bool // сетевые и 5xx ошибки - можно retry'ить
	Original  error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Temporary сообщает retry-логике, можно ли повторять запрос
func (e *ExchangeError) Temporary() bool {
	return e.Transient
}

// Стороны ордеров
const (
	SideBuy  = "buy"  // покупка (открытие long или закрытие short)
	SideSell = "sell" // продажа (открытие short или закрытие long)
)

// Статусы ордеров
const (
	OrderStatusFilled    = "filled"
	OrderStatusPartial   = "partial"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// CloseSide возвращает сторону ордера для закрытия позиции
func CloseSide(positionSide string) string {
	if positionSide == "long" {
		return SideSell
	}
	return SideBuy
}
