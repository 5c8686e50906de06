package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики мониторинга позиций
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах
// - Анализ производительности в production

// ============ Метрики состояния ============

// PositionsByState - количество позиций в реестре по состояниям
var PositionsByState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "positionbot",
		Subsystem: "monitor",
		Name:      "positions",
		Help:      "Number of registered positions by state",
	},
	[]string{"state"}, // pending, active, reducing, closing, closed, error
)

// DirtyPositions - позиции с невыгруженными в БД изменениями
var DirtyPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "positionbot",
		Subsystem: "persistence",
		Name:      "dirty_positions",
		Help:      "Positions with unsynced changes",
	},
)

// ============ Метрики тика монитора ============

// TickDuration - длительность полного тика мониторинга
var TickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "positionbot",
		Subsystem: "monitor",
		Name:      "tick_duration_ms",
		Help:      "Full monitoring tick duration in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000},
	},
)

// ChecksTotal - выполненные проверки по типам
var ChecksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "monitor",
		Name:      "checks_total",
		Help:      "Total number of per-position checks executed",
	},
	[]string{"check"}, // price, liquidation, stop_loss, take_profit, partial_tp, break_even, trailing, time_exit
)

// PriceFetchErrors - ошибки получения цены
var PriceFetchErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "monitor",
		Name:      "price_fetch_errors_total",
		Help:      "Number of failed price fetches",
	},
	[]string{"symbol"},
)

// ============ Метрики сделок ============

// ClosesTotal - закрытия позиций по причинам
var ClosesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "trading",
		Name:      "closes_total",
		Help:      "Position closes by reason",
	},
	[]string{"reason"}, // stop_loss, take_profit, partial_tp, trailing_stop, time_exit, liquidation, ...
)

// PnlTotal - суммарный реализованный PNL в USDT.
// Gauge, потому что PNL бывает отрицательным.
var PnlTotal = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "positionbot",
		Subsystem: "trading",
		Name:      "pnl_total_usdt",
		Help:      "Total realized PnL in USDT",
	},
)

// OrderExecutionLatency - время исполнения ордера на бирже
var OrderExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "positionbot",
		Subsystem: "trading",
		Name:      "order_execution_latency_ms",
		Help:      "Time to execute order on exchange in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"exchange", "operation"}, // operation: open, close, reduce
)

// OrderFailures - ордера, не исполненные после всех ретраев
var OrderFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "trading",
		Name:      "order_failures_total",
		Help:      "Orders that failed after retries",
	},
	[]string{"exchange", "operation"},
)

// ============ Метрики риска ============

// RiskBlocksTotal - отклонённые риск-гейтом входы
var RiskBlocksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "risk",
		Name:      "entry_blocks_total",
		Help:      "Entries rejected by the pre-trade gate",
	},
	[]string{"reason"}, // session, daily_loss, var, mtf, correlation, sizing
)

// LiquidationWarnings - предупреждения о близости ликвидации
var LiquidationWarnings = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "risk",
		Name:      "liquidation_warnings_total",
		Help:      "Liquidation proximity warnings sent",
	},
	[]string{"tier"}, // warning, high, critical, extreme
)

// AutoClosesTotal - авто-закрытия у зоны ликвидации
var AutoClosesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "risk",
		Name:      "auto_closes_total",
		Help:      "Automatic closes near liquidation",
	},
	[]string{"result"}, // success, emergency, failed
)

// ============ Метрики инфраструктуры ============

// CircuitState - состояние circuit breaker'а биржи (0=closed, 1=half-open, 2=open)
var CircuitState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "positionbot",
		Subsystem: "exchange",
		Name:      "circuit_state",
		Help:      "Exchange circuit breaker state (0=closed, 1=half-open, 2=open)",
	},
	[]string{"exchange"},
)

// StaleLocks - принудительно снятые блокировки позиций
var StaleLocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "monitor",
		Name:      "stale_locks_total",
		Help:      "Position locks force-released by cleanup",
	},
	[]string{"owner"},
)

// GhostsDetected - расхождения реестра с биржей
var GhostsDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "monitor",
		Name:      "ghosts_total",
		Help:      "Registry/exchange mismatches detected",
	},
	[]string{"kind"}, // missing_on_exchange, missing_in_registry
)

// FlushDuration - длительность записи dirty-позиций в БД
var FlushDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "positionbot",
		Subsystem: "persistence",
		Name:      "flush_duration_ms",
		Help:      "Time to flush dirty positions to the database",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
	},
)

// FlushErrors - неудачные попытки записи в БД
var FlushErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "positionbot",
		Subsystem: "persistence",
		Name:      "flush_errors_total",
		Help:      "Failed database flush attempts",
	},
)

// ============ Вспомогательные функции ============

// UpdatePositionGauges обновляет gauges по срезу состояний
func UpdatePositionGauges(counts map[string]int) {
	for _, state := range []string{"pending", "active", "reducing", "closing", "closed", "error"} {
		PositionsByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// RecordClose записывает закрытие позиции
func RecordClose(reason string, pnl float64) {
	ClosesTotal.WithLabelValues(reason).Inc()
	PnlTotal.Add(pnl)
}

// RecordCheck записывает выполненную проверку
func RecordCheck(check string) {
	ChecksTotal.WithLabelValues(check).Inc()
}

// RecordRiskBlock записывает отклонённый вход
func RecordRiskBlock(reason string) {
	RiskBlocksTotal.WithLabelValues(reason).Inc()
}

// RecordStaleLock записывает принудительно снятую блокировку
func RecordStaleLock(owner string) {
	StaleLocks.WithLabelValues(owner).Inc()
}

// RecordOrderLatency записывает латентность ордера
func RecordOrderLatency(exchange, operation string, latencyMs float64) {
	OrderExecutionLatency.WithLabelValues(exchange, operation).Observe(latencyMs)
}

// UpdateCircuitState обновляет gauge состояния circuit breaker'а
func UpdateCircuitState(exchange string, state int) {
	CircuitState.WithLabelValues(exchange).Set(float64(state))
}
