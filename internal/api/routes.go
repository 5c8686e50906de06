package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"positionbot/internal/api/handlers"
	"positionbot/internal/api/middleware"
	"positionbot/internal/bot"
	"positionbot/internal/guard"
	"positionbot/internal/risk"
	"positionbot/internal/service"
	"positionbot/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	APIToken string

	Registry *bot.Registry
	Executor *bot.Executor
	Monitor  *bot.Monitor
	Gate     *risk.Gate
	Daily    *guard.DailyLossTracker

	SettingsService     *service.SettingsService
	StatsService        *service.StatsService
	NotificationService *service.NotificationService

	ReevalLog handlers.ReevalLog

	Hub *websocket.Hub
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /positions/
//	│   ├── GET ?user_id=N - список позиций
//	│   ├── POST / - открыть позицию (через риск-гейт)
//	│   ├── GET /{id} - получить позицию
//	│   ├── GET /{id}/reevaluations - журнал пересмотров уровней
//	│   ├── POST /{id}/close - закрыть позицию
//	│   └── POST /{id}/reduce - частично закрыть
//	├── /risk/
//	│   └── GET /daily?user_id=N - состояние дневных лимитов
//	├── /notifications/
//	│   └── GET ?user_id=N - журнал уведомлений
//	├── /stats/
//	│   ├── GET ?user_id=N - статистика
//	│   └── GET /trades?user_id=N - последние сделки
//	├── /monitor - состояние мониторного цикла
//	└── /settings/
//	    ├── GET ?user_id=N - получить настройки
//	    └── PATCH ?user_id=N - обновить настройки
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics  - Prometheus метрики
// /health   - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	positionHandler := handlers.NewPositionHandler(
		deps.Registry, deps.Executor, deps.Gate,
		deps.SettingsService, deps.StatsService, deps.NotificationService,
		deps.ReevalLog)
	riskHandler := handlers.NewRiskHandler(deps.Daily, deps.SettingsService)
	settingsHandler := handlers.NewSettingsHandler(deps.SettingsService)
	notificationHandler := handlers.NewNotificationHandler(deps.NotificationService)
	statsHandler := handlers.NewStatsHandler(deps.StatsService, deps.Monitor, deps.Registry)

	// API v1 routes за Bearer-токеном
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.APIToken))

	api.HandleFunc("/positions", positionHandler.GetPositions).Methods("GET")
	api.HandleFunc("/positions", positionHandler.OpenPosition).Methods("POST")
	api.HandleFunc("/positions/{id}", positionHandler.GetPosition).Methods("GET")
	api.HandleFunc("/positions/{id}/reevaluations", positionHandler.GetReevaluations).Methods("GET")
	api.HandleFunc("/positions/{id}/close", positionHandler.ClosePosition).Methods("POST")
	api.HandleFunc("/positions/{id}/reduce", positionHandler.ReducePosition).Methods("POST")

	api.HandleFunc("/risk/daily", riskHandler.GetDailyStatus).Methods("GET")

	api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")

	api.HandleFunc("/stats", statsHandler.GetStats).Methods("GET")
	api.HandleFunc("/stats/trades", statsHandler.GetTrades).Methods("GET")
	api.HandleFunc("/monitor", statsHandler.GetMonitorStats).Methods("GET")

	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods("GET")
	api.HandleFunc("/settings", settingsHandler.UpdateSettings).Methods("PATCH")

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
