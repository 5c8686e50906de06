package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"positionbot/pkg/ratelimit"
)

// BybitClient - клиент Bybit v5 REST API
//
// Категории rate limit'а разнесены: market data не должна
// конкурировать за токены с ордерами.
type BybitClient struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
	limiter    *ratelimit.MultiLimiter
}

const (
	bybitRecvWindow = "5000"

	categoryMarket  = "market"
	categoryOrders  = "orders"
	categoryAccount = "account"
)

// NewBybitClient создаёт клиент Bybit
func NewBybitClient(apiKey, secretKey string, testnet bool) *BybitClient {
	baseURL := "https://api.bybit.com"
	if testnet {
		baseURL = "https://api-testnet.bybit.com"
	}

	limiter := ratelimit.NewMultiLimiter()
	limiter.Add(categoryMarket, 20, 40)
	limiter.Add(categoryOrders, 5, 10)
	limiter.Add(categoryAccount, 10, 20)

	return &BybitClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: limiter,
	}
}

// GetName возвращает имя биржи
func (c *BybitClient) GetName() string {
	return "bybit"
}

// bybitResponse - общая обёртка ответов v5 API
type bybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// GetPrice получает последнюю цену символа
func (c *BybitClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := c.get(ctx, categoryMarket, "/v5/market/tickers", params, false, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, c.wrapErr("ticker_empty", fmt.Sprintf("no ticker for %s", symbol), false, nil)
	}

	price, err := strconv.ParseFloat(result.List[0].LastPrice, 64)
	if err != nil {
		return 0, c.wrapErr("parse", "invalid lastPrice", false, err)
	}
	return price, nil
}

// GetKlines получает свечи символа
func (c *BybitClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)
	params.Set("interval", bybitInterval(interval))
	params.Set("limit", strconv.Itoa(limit))

	var result struct {
		// [startTime, open, high, low, close, volume, turnover]
		List [][]string `json:"list"`
	}
	if err := c.get(ctx, categoryMarket, "/v5/market/kline", params, false, &result); err != nil {
		return nil, err
	}

	// Bybit отдаёт свечи от новых к старым - разворачиваем
	klines := make([]Kline, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		cls, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)

		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(ts),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    cls,
			Volume:   vol,
		})
	}
	return klines, nil
}

// bybitInterval переводит интервал в формат API ("1h" -> "60")
func bybitInterval(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return "60"
	}
}

// GetBalance получает equity фьючерсного аккаунта в USDT
func (c *BybitClient) GetBalance(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", "USDT")

	var result struct {
		List []struct {
			Coin []struct {
				Equity string `json:"equity"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := c.get(ctx, categoryAccount, "/v5/account/wallet-balance", params, true, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 || len(result.List[0].Coin) == 0 {
		return 0, nil
	}

	equity, err := strconv.ParseFloat(result.List[0].Coin[0].Equity, 64)
	if err != nil {
		return 0, c.wrapErr("parse", "invalid equity", false, err)
	}
	return equity, nil
}

// PlaceMarketOrder размещает рыночный ордер
//
// linkID передаётся биржей как orderLinkId: при потерянном ответе
// ордер находится через GetOrderByLink вместо повторной отправки.
func (c *BybitClient) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64, linkID string) (*Order, error) {
	body := map[string]interface{}{
		"category":  "linear",
		"symbol":    symbol,
		"side":      bybitSide(side),
		"orderType": "Market",
		"qty":       strconv.FormatFloat(qty, 'f', -1, 64),
	}
	if linkID != "" {
		body["orderLinkId"] = linkID
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.post(ctx, categoryOrders, "/v5/order/create", body, &result); err != nil {
		return nil, err
	}

	fillPrice, _ := c.GetPrice(ctx, symbol)

	return &Order{
		ID:           result.OrderID,
		LinkID:       linkID,
		Symbol:       symbol,
		Side:         side,
		Quantity:     qty,
		FilledQty:    qty,
		AvgFillPrice: fillPrice,
		Status:       OrderStatusFilled,
		CreatedAt:    time.Now(),
	}, nil
}

// ClosePosition закрывает позицию reduce-only рыночным ордером
func (c *BybitClient) ClosePosition(ctx context.Context, symbol, side string, qty float64, linkID string) (*Order, error) {
	body := map[string]interface{}{
		"category":   "linear",
		"symbol":     symbol,
		"side":       bybitSide(CloseSide(side)),
		"orderType":  "Market",
		"qty":        strconv.FormatFloat(qty, 'f', -1, 64),
		"reduceOnly": true,
	}
	if linkID != "" {
		body["orderLinkId"] = linkID
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.post(ctx, categoryOrders, "/v5/order/create", body, &result); err != nil {
		return nil, err
	}

	// Рыночный reduce-only исполняется сразу; цену исполнения
	// приближаем текущей ценой (точная придёт в истории исполнений)
	fillPrice, _ := c.GetPrice(ctx, symbol)

	return &Order{
		ID:           result.OrderID,
		LinkID:       linkID,
		Symbol:       symbol,
		Side:         CloseSide(side),
		Quantity:     qty,
		FilledQty:    qty,
		AvgFillPrice: fillPrice,
		Status:       OrderStatusFilled,
		CreatedAt:    time.Now(),
	}, nil
}

// GetOrderByLink возвращает ордер по orderLinkId
//
// Рыночные ордера исполняются почти мгновенно, поэтому сначала
// realtime-выборка, затем история за сегодня. Пустой результат обоих
// означает, что create-запрос до биржи не дошёл.
func (c *BybitClient) GetOrderByLink(ctx context.Context, symbol, linkID string) (*Order, error) {
	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		params := url.Values{}
		params.Set("category", "linear")
		params.Set("symbol", symbol)
		params.Set("orderLinkId", linkID)

		var result struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderStatus string `json:"orderStatus"`
				Qty         string `json:"qty"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
				Side        string `json:"side"`
			} `json:"list"`
		}
		if err := c.get(ctx, categoryOrders, path, params, true, &result); err != nil {
			return nil, err
		}
		if len(result.List) == 0 {
			continue
		}

		o := result.List[0]
		qty, _ := strconv.ParseFloat(o.Qty, 64)
		filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
		avg, _ := strconv.ParseFloat(o.AvgPrice, 64)

		side := SideSell
		if o.Side == "Buy" {
			side = SideBuy
		}
		return &Order{
			ID:           o.OrderID,
			LinkID:       linkID,
			Symbol:       symbol,
			Side:         side,
			Quantity:     qty,
			FilledQty:    filled,
			AvgFillPrice: avg,
			Status:       bybitOrderStatus(o.OrderStatus),
			CreatedAt:    time.Now(),
		}, nil
	}
	return nil, ErrOrderNotFound
}

// bybitOrderStatus переводит статус ордера v5 в канонический
func bybitOrderStatus(status string) string {
	switch status {
	case "Filled":
		return OrderStatusFilled
	case "PartiallyFilled", "PartiallyFilledCanceled":
		return OrderStatusPartial
	case "Cancelled", "Deactivated":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return status
	}
}

// GetOpenPositions получает открытые позиции аккаунта
func (c *BybitClient) GetOpenPositions(ctx context.Context) ([]*OpenPosition, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("settleCoin", "USDT")

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	}
	if err := c.get(ctx, categoryAccount, "/v5/position/list", params, true, &result); err != nil {
		return nil, err
	}

	positions := make([]*OpenPosition, 0, len(result.List))
	for _, p := range result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.AvgPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)

		side := "long"
		if p.Side == "Sell" {
			side = "short"
		}

		positions = append(positions, &OpenPosition{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     mark,
			Leverage:      int(lev),
			UnrealizedPnl: pnl,
			UpdatedAt:     time.Now(),
		})
	}
	return positions, nil
}

// GetLimits получает лимиты инструмента
func (c *BybitClient) GetLimits(ctx context.Context, symbol string) (*Limits, error) {
	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", symbol)

	var result struct {
		List []struct {
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				MaxOrderQty string `json:"maxOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LeverageFilter struct {
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
		} `json:"list"`
	}
	if err := c.get(ctx, categoryMarket, "/v5/market/instruments-info", params, false, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, c.wrapErr("instrument_not_found", fmt.Sprintf("no instrument %s", symbol), false, nil)
	}

	info := result.List[0]
	minQty, _ := strconv.ParseFloat(info.LotSizeFilter.MinOrderQty, 64)
	maxQty, _ := strconv.ParseFloat(info.LotSizeFilter.MaxOrderQty, 64)
	qtyStep, _ := strconv.ParseFloat(info.LotSizeFilter.QtyStep, 64)
	tickSize, _ := strconv.ParseFloat(info.PriceFilter.TickSize, 64)
	maxLev, _ := strconv.ParseFloat(info.LeverageFilter.MaxLeverage, 64)

	return &Limits{
		Symbol:      symbol,
		MinOrderQty: minQty,
		MaxOrderQty: maxQty,
		QtyStep:     qtyStep,
		PriceStep:   tickSize,
		MaxLeverage: int(maxLev),
	}, nil
}

// Close закрывает соединения
func (c *BybitClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ============ HTTP транспорт ============

// get выполняет GET запрос (signed=true для приватных эндпоинтов)
func (c *BybitClient) get(ctx context.Context, limitCategory, path string, params url.Values, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx, limitCategory); err != nil {
		return err
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return c.wrapErr("request", "build request", false, err)
	}

	if signed {
		c.sign(req, params.Encode())
	}

	return c.do(req, out)
}

// post выполняет подписанный POST запрос
func (c *BybitClient) post(ctx context.Context, limitCategory, path string, body map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx, limitCategory); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return c.wrapErr("request", "marshal body", false, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(payload)))
	if err != nil {
		return c.wrapErr("request", "build request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, string(payload))

	return c.do(req, out)
}

// sign подписывает запрос HMAC-SHA256 по схеме v5:
// timestamp + apiKey + recvWindow + payload
func (c *BybitClient) sign(req *http.Request, payload string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp + c.apiKey + bybitRecvWindow + payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	req.Header.Set("X-BAPI-SIGN", signature)
}

// do выполняет запрос и разбирает обёртку ответа
func (c *BybitClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrapErr("network", "request failed", true, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.wrapErr("network", "read body", true, err)
	}

	if resp.StatusCode >= 500 {
		return c.wrapErr(strconv.Itoa(resp.StatusCode), "server error", true, nil)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return c.wrapErr("429", "rate limited", true, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return c.wrapErr(strconv.Itoa(resp.StatusCode), string(data), false, nil)
	}

	var wrapper bybitResponse
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return c.wrapErr("parse", "invalid response", false, err)
	}
	if wrapper.RetCode != 0 {
		return c.wrapErr(strconv.Itoa(wrapper.RetCode), wrapper.RetMsg, false, nil)
	}

	if out != nil {
		if err := json.Unmarshal(wrapper.Result, out); err != nil {
			return c.wrapErr("parse", "invalid result", false, err)
		}
	}
	return nil
}

// wrapErr создаёт ExchangeError
func (c *BybitClient) wrapErr(code, message string, transient bool, original error) error {
	return &ExchangeError{
		Exchange:  c.GetName(),
		Code:      code,
		Message:   message,
		Transient: transient,
		Original:  original,
	}
}

// bybitSide переводит сторону ордера в формат API
func bybitSide(side string) string {
	if side == SideBuy {
		return "Buy"
	}
	return "Sell"
}
