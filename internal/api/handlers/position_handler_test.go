package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"positionbot/internal/bot"
	"positionbot/internal/exchange"
	"positionbot/internal/guard"
	"positionbot/internal/models"
	"positionbot/internal/repository"
	"positionbot/internal/risk"
	"positionbot/internal/service"
)

// ============ стабы зависимостей ============

type stubSettingsRepo struct {
	mu       sync.Mutex
	settings map[int64]*models.UserSettings
}

func (s *stubSettingsRepo) GetByUser(ctx context.Context, userID int64) (*models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[userID]
	if !ok {
		return nil, repository.ErrSettingsNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *stubSettingsRepo) Upsert(ctx context.Context, settings *models.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *settings
	s.settings[settings.UserID] = &cp
	return nil
}

func (s *stubSettingsRepo) ListAll(ctx context.Context) ([]*models.UserSettings, error) {
	return nil, nil
}

type stubTradeRepo struct {
	mu     sync.Mutex
	trades []*models.TradeRecord
}

func (s *stubTradeRepo) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	s.mu.Lock()
	s.trades = append(s.trades, trade)
	s.mu.Unlock()
	return nil
}

func (s *stubTradeRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.TradeRecord, error) {
	return nil, nil
}

func (s *stubTradeRepo) PerformanceSince(ctx context.Context, userID int64, from time.Time) (*models.PerformanceSample, error) {
	return &models.PerformanceSample{UserID: userID}, nil
}

func (s *stubTradeRepo) Stats(ctx context.Context, userID int64) (*models.Stats, error) {
	return &models.Stats{}, nil
}

// stubReevalLog - журнал пересмотров в памяти: и приёмник записей
// исполнителя, и источник для GET-endpoint'а
type stubReevalLog struct {
	mu      sync.Mutex
	records []*models.ReevaluationRecord
}

func (s *stubReevalLog) Append(ctx context.Context, rec *models.ReevaluationRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *stubReevalLog) ListByPosition(ctx context.Context, positionID string, limit int) ([]*models.ReevaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ReevaluationRecord
	for _, rec := range s.records {
		if rec.PositionID == positionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type stubNotifier struct {
	mu     sync.Mutex
	events []*models.Notification
}

func (s *stubNotifier) Notify(n *models.Notification) {
	s.mu.Lock()
	s.events = append(s.events, n)
	s.mu.Unlock()
}

func (s *stubNotifier) countByType(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.events {
		if n.Type == typ {
			count++
		}
	}
	return count
}

// ============ сборка тестового окружения ============

type apiHarness struct {
	paper    *exchange.PaperExchange
	registry *bot.Registry
	exec     *bot.Executor
	daily    *guard.DailyLossTracker
	notifier *stubNotifier
	reevals  *stubReevalLog
	router   *mux.Router
}

// newAPIHarness собирает реальную цепочку registry -> executor -> gate
// поверх paper-биржи. В настройках пользователей отключён weekend block,
// а окно ролловера сжато до наносекунды, чтобы вердикт гейта не зависел
// от момента запуска тестов.
func newAPIHarness(t *testing.T, userIDs ...int64) *apiHarness {
	t.Helper()

	paper := exchange.NewPaperExchange(100000)
	paper.SetPrice("BTCUSDT", 50000)

	registry := bot.NewRegistry()
	locks := bot.NewLockManager()
	daily := guard.NewDailyLossTracker(guard.DailyLimits{}, time.Hour)
	corr := guard.NewCorrelationGuard()
	notifier := &stubNotifier{}

	exec := bot.NewExecutor(paper, registry, locks, daily, &stubTradeRepo{}, notifier)
	reevals := &stubReevalLog{}
	exec.SetReevalStore(reevals)

	params := risk.DefaultParams()
	params.RolloverWindow = time.Nanosecond
	gate := risk.NewGate(params, paper, daily, corr)

	repo := &stubSettingsRepo{settings: make(map[int64]*models.UserSettings)}
	for _, userID := range userIDs {
		settings := models.DefaultUserSettings(userID)
		settings.WeekendBlock = false
		repo.settings[userID] = settings
	}
	settingsSvc := service.NewSettingsService(repo, time.Minute)
	statsSvc := service.NewStatsService(&stubTradeRepo{}, settingsSvc)
	exec.SetCapitalFunc(settingsSvc.CapitalFor)

	handler := NewPositionHandler(registry, exec, gate, settingsSvc, statsSvc, notifier, reevals)

	router := mux.NewRouter()
	router.HandleFunc("/positions", handler.GetPositions).Methods("GET")
	router.HandleFunc("/positions", handler.OpenPosition).Methods("POST")
	router.HandleFunc("/positions/{id}", handler.GetPosition).Methods("GET")
	router.HandleFunc("/positions/{id}/reevaluations", handler.GetReevaluations).Methods("GET")
	router.HandleFunc("/positions/{id}/close", handler.ClosePosition).Methods("POST")
	router.HandleFunc("/positions/{id}/reduce", handler.ReducePosition).Methods("POST")

	return &apiHarness{
		paper:    paper,
		registry: registry,
		exec:     exec,
		daily:    daily,
		notifier: notifier,
		reevals:  reevals,
		router:   router,
	}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

// openActive открывает позицию через API и возвращает её ID
func (h *apiHarness) openActive(t *testing.T) string {
	t.Helper()
	rec := h.do(t, "POST", "/positions",
		`{"user_id": 1, "symbol": "BTCUSDT", "side": "long", "confidence": 0.8, "stop_loss_pct": 2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("открытие позиции: код %d, тело %s", rec.Code, rec.Body.String())
	}
	var resp OpenPositionResponse
	if err := fastjson.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if resp.Position == nil {
		t.Fatal("в ответе нет позиции")
	}
	return resp.Position.ID
}

// ============ тесты ============

func TestPositionHandlerGetPositions(t *testing.T) {
	h := newAPIHarness(t, 1)

	t.Run("без user_id - 400", func(t *testing.T) {
		rec := h.do(t, "GET", "/positions", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("код ответа: получили %d, ожидали 400", rec.Code)
		}
	})

	t.Run("пустой реестр - 200 и total 0", func(t *testing.T) {
		rec := h.do(t, "GET", "/positions?user_id=1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("код ответа: получили %d, ожидали 200", rec.Code)
		}
		var resp struct {
			Total int `json:"total"`
		}
		if err := fastjson.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("декодирование ответа: %v", err)
		}
		if resp.Total != 0 {
			t.Errorf("total: получили %d, ожидали 0", resp.Total)
		}
	})

	t.Run("позиции только своего пользователя", func(t *testing.T) {
		h.openActive(t)

		rec := h.do(t, "GET", "/positions?user_id=1", "")
		var resp struct {
			Positions []*models.Position `json:"positions"`
			Total     int                `json:"total"`
		}
		if err := fastjson.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("декодирование ответа: %v", err)
		}
		if resp.Total != 1 {
			t.Fatalf("total: получили %d, ожидали 1", resp.Total)
		}
		if resp.Positions[0].Symbol != "BTCUSDT" {
			t.Errorf("symbol: получили %s", resp.Positions[0].Symbol)
		}

		rec = h.do(t, "GET", "/positions?user_id=99", "")
		if err := fastjson.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("декодирование ответа: %v", err)
		}
		if resp.Total != 0 {
			t.Errorf("чужой пользователь видит %d позиций", resp.Total)
		}
	})
}

func TestPositionHandlerGetPosition(t *testing.T) {
	h := newAPIHarness(t, 1)

	t.Run("неизвестный id - 404", func(t *testing.T) {
		rec := h.do(t, "GET", "/positions/no-such-id", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("код ответа: получили %d, ожидали 404", rec.Code)
		}
	})

	t.Run("существующая позиция", func(t *testing.T) {
		id := h.openActive(t)
		rec := h.do(t, "GET", "/positions/"+id, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("код ответа: получили %d, ожидали 200", rec.Code)
		}
		var p models.Position
		if err := fastjson.NewDecoder(rec.Body).Decode(&p); err != nil {
			t.Fatalf("декодирование ответа: %v", err)
		}
		if p.ID != id {
			t.Errorf("id: получили %s, ожидали %s", p.ID, id)
		}
	})
}

func TestPositionHandlerOpenPositionValidation(t *testing.T) {
	h := newAPIHarness(t, 1)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "невалидный JSON",
			body: `{"user_id": `,
		},
		{
			name: "нет user_id и symbol",
			body: `{"side": "long", "confidence": 0.5}`,
		},
		{
			name: "неизвестная сторона",
			body: `{"user_id": 1, "symbol": "BTCUSDT", "side": "sideways", "confidence": 0.5}`,
		},
		{
			name: "confidence вне диапазона",
			body: `{"user_id": 1, "symbol": "BTCUSDT", "side": "long", "confidence": 1.5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, "POST", "/positions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("код ответа: получили %d, ожидали 400", rec.Code)
			}
			if h.registry.Count() != 0 {
				t.Errorf("в реестре появилась позиция после невалидного запроса")
			}
		})
	}
}

func TestPositionHandlerOpenPositionApproved(t *testing.T) {
	h := newAPIHarness(t, 1)

	rec := h.do(t, "POST", "/positions",
		`{"user_id": 1, "symbol": "BTCUSDT", "side": "long", "confidence": 0.8, "stop_loss_pct": 2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("код ответа: получили %d, тело %s", rec.Code, rec.Body.String())
	}

	var resp OpenPositionResponse
	if err := fastjson.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if resp.Decision == nil || !resp.Decision.Approved {
		t.Fatalf("вердикт гейта: %+v", resp.Decision)
	}
	if resp.Position == nil {
		t.Fatal("в ответе нет позиции")
	}

	p := resp.Position
	if p.State != models.PositionStateActive {
		t.Errorf("состояние: получили %s, ожидали active", p.State)
	}
	if p.Quantity <= 0 {
		t.Errorf("quantity: %f", p.Quantity)
	}
	if p.EntryPrice != 50000 {
		t.Errorf("entry price: получили %f, ожидали 50000", p.EntryPrice)
	}
	// long: SL ниже входа, TP выше
	if p.StopLoss >= p.EntryPrice {
		t.Errorf("SL %f не ниже входа %f", p.StopLoss, p.EntryPrice)
	}
	if p.TakeProfit <= p.EntryPrice {
		t.Errorf("TP %f не выше входа %f", p.TakeProfit, p.EntryPrice)
	}
	if len(p.PartialTPLevels) == 0 {
		t.Error("частичные TP не выставлены при включённом PartialTPEnabled")
	}

	// позиция попала в реестр
	if _, err := h.registry.Get(p.ID); err != nil {
		t.Errorf("позиция не зарегистрирована: %v", err)
	}
}

func TestPositionHandlerOpenPositionRiskBlocked(t *testing.T) {
	h := newAPIHarness(t, 2)

	// Пробитый дневной лимит: убыток 600 при капитале 10000 (лимит 5%)
	h.daily.RecordTrade(2, -600, 10000)

	rec := h.do(t, "POST", "/positions",
		`{"user_id": 2, "symbol": "BTCUSDT", "side": "long", "confidence": 0.8, "stop_loss_pct": 2}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("код ответа: получили %d, ожидали 422", rec.Code)
	}

	var resp OpenPositionResponse
	if err := fastjson.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if resp.Decision.Approved {
		t.Error("вердикт одобрен при пробитом дневном лимите")
	}
	if len(resp.Decision.Reasons) == 0 {
		t.Fatal("в вердикте нет причин отказа")
	}
	found := false
	for _, reason := range resp.Decision.Reasons {
		if strings.Contains(reason, "daily loss") {
			found = true
		}
	}
	if !found {
		t.Errorf("среди причин нет дневного лимита: %v", resp.Decision.Reasons)
	}
	if resp.Position != nil {
		t.Error("позиция открыта несмотря на отказ")
	}
	if h.registry.Count() != 0 {
		t.Error("позиция попала в реестр несмотря на отказ")
	}
	if h.notifier.countByType(models.NotificationTypeRiskBlock) != 1 {
		t.Error("нет уведомления RISK_BLOCK")
	}
}

func TestPositionHandlerClosePosition(t *testing.T) {
	h := newAPIHarness(t, 1)

	t.Run("неизвестный id - 404", func(t *testing.T) {
		rec := h.do(t, "POST", "/positions/no-such-id/close", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("код ответа: получили %d, ожидали 404", rec.Code)
		}
	})

	t.Run("закрытие активной позиции", func(t *testing.T) {
		id := h.openActive(t)

		rec := h.do(t, "POST", "/positions/"+id+"/close", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("код ответа: получили %d, тело %s", rec.Code, rec.Body.String())
		}
		var trade models.TradeRecord
		if err := fastjson.NewDecoder(rec.Body).Decode(&trade); err != nil {
			t.Fatalf("декодирование ответа: %v", err)
		}
		if trade.Reason != models.CloseReasonManual {
			t.Errorf("reason: получили %s, ожидали manual", trade.Reason)
		}

		p, err := h.registry.Get(id)
		if err != nil {
			t.Fatalf("позиция пропала из реестра: %v", err)
		}
		if p.State != models.PositionStateClosed {
			t.Errorf("состояние после закрытия: %s", p.State)
		}
	})

	t.Run("повторное закрытие - 409", func(t *testing.T) {
		id := h.openActive(t)
		h.do(t, "POST", "/positions/"+id+"/close", "")

		rec := h.do(t, "POST", "/positions/"+id+"/close", "")
		if rec.Code != http.StatusConflict {
			t.Errorf("код ответа: получили %d, ожидали 409", rec.Code)
		}
	})
}

func TestPositionHandlerReducePosition(t *testing.T) {
	h := newAPIHarness(t, 1)

	t.Run("quantity обязателен", func(t *testing.T) {
		id := h.openActive(t)
		rec := h.do(t, "POST", "/positions/"+id+"/reduce", `{"quantity": 0}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("код ответа: получили %d, ожидали 400", rec.Code)
		}
		// освобождаем пару для следующего subtest'а
		h.do(t, "POST", "/positions/"+id+"/close", "")
	})

	t.Run("частичное закрытие уменьшает количество", func(t *testing.T) {
		id := h.openActive(t)
		before, err := h.registry.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		half := before.Quantity / 2

		rec := h.do(t, "POST", "/positions/"+id+"/reduce",
			`{"quantity": `+strconvFloat(half)+`}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("код ответа: получили %d, тело %s", rec.Code, rec.Body.String())
		}

		after, err := h.registry.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if after.State != models.PositionStateActive {
			t.Errorf("состояние после reduce: %s", after.State)
		}
		if after.Quantity >= before.Quantity {
			t.Errorf("quantity не уменьшился: было %f, стало %f", before.Quantity, after.Quantity)
		}
	})
}

func TestPositionHandlerGetReevaluations(t *testing.T) {
	h := newAPIHarness(t, 1)

	t.Run("пустой журнал - 200 и total 0", func(t *testing.T) {
		rec := h.do(t, "GET", "/positions/no-such-id/reevaluations", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("код ответа: получили %d, ожидали 200", rec.Code)
		}
		var resp struct {
			Total int `json:"total"`
		}
		if err := fastjson.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("декодирование ответа: %v", err)
		}
		if resp.Total != 0 {
			t.Errorf("total: получили %d, ожидали 0", resp.Total)
		}
	})

	t.Run("закрытие оставляет запись в журнале", func(t *testing.T) {
		id := h.openActive(t)
		h.do(t, "POST", "/positions/"+id+"/close", "")

		rec := h.do(t, "GET", "/positions/"+id+"/reevaluations", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("код ответа: получили %d, тело %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Reevaluations []*models.ReevaluationRecord `json:"reevaluations"`
			Total         int                          `json:"total"`
		}
		if err := fastjson.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("декодирование ответа: %v", err)
		}
		if resp.Total != 1 {
			t.Fatalf("total: получили %d, ожидали 1", resp.Total)
		}
		if resp.Reevaluations[0].Type != models.ReevalManualClose {
			t.Errorf("type: получили %s, ожидали %s", resp.Reevaluations[0].Type, models.ReevalManualClose)
		}
	})
}

func strconvFloat(f float64) string {
	b, _ := fastjson.Marshal(f)
	return string(b)
}
