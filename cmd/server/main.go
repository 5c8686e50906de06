package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"positionbot/internal/api"
	"positionbot/internal/bot"
	"positionbot/internal/config"
	"positionbot/internal/exchange"
	"positionbot/internal/guard"
	"positionbot/internal/repository"
	"positionbot/internal/risk"
	"positionbot/internal/service"
	"positionbot/internal/websocket"
	"positionbot/pkg/crypto"
	"positionbot/pkg/utils"
)

func main() {
	// .env для локальной разработки; в проде переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.SyncLogger()

	if err := run(cfg); err != nil {
		utils.Log.Fatalw("fatal", "error", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============ база данных ============

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database %s: %w", cfg.Database.DSNWithoutPassword(), err)
	}
	utils.Log.Infow("database connected", "dsn", cfg.Database.DSNWithoutPassword())

	positionRepo := repository.NewPositionRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	reevalRepo := repository.NewReevaluationRepository(db)

	// ============ сервисы ============

	settingsSvc := service.NewSettingsService(settingsRepo, cfg.Monitor.SettingsRefresh)
	if err := settingsSvc.Preload(ctx); err != nil {
		utils.Log.Warnw("settings preload failed", "error", err)
	}
	go settingsSvc.Run(ctx)

	notificationSvc := service.NewNotificationService(notificationRepo, settingsSvc, 256)
	if cfg.Telegram.Enabled {
		telegram, err := service.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notificationSvc.SetTelegram(telegram)
	}
	go notificationSvc.Run(ctx)

	statsSvc := service.NewStatsService(tradeRepo, settingsSvc)

	// ============ биржа и риск-движок ============

	exch, err := buildExchange(cfg)
	if err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	defer exch.Close()
	utils.Log.Infow("exchange ready", "name", exch.GetName())

	daily := guard.NewDailyLossTracker(guard.DailyLimits{
		ConsecutiveLosses: cfg.Risk.ConsecutiveLosses,
	}, cfg.Risk.DailyCooldown)
	corr := guard.NewCorrelationGuard()

	riskParams := risk.Params{
		ATRPeriod:         cfg.Risk.ATRPeriod,
		ATRMultiplierSL:   cfg.Risk.ATRMultiplierSL,
		ATRMultiplierTP:   cfg.Risk.ATRMultiplierTP,
		MinRiskReward:     cfg.Risk.MinRiskReward,
		MinStopLossPct:    cfg.Risk.MinStopLossPct,
		MaxStopLossPct:    cfg.Risk.MaxStopLossPct,
		KellyMinTrades:    cfg.Risk.KellyMinTrades,
		VaRConfidence:     cfg.Risk.VaRConfidence,
		VaRBlockPct:       cfg.Risk.VaRBlockPct,
		VaRWarnPct:        cfg.Risk.VaRWarnPct,
		MaintenanceMargin: cfg.Risk.MaintenanceMargin,
	}
	gate := risk.NewGate(riskParams, exch, daily, corr)

	// ============ ядро бота ============

	registry := bot.NewRegistry()
	locks := bot.NewLockManager()

	executor := bot.NewExecutor(exch, registry, locks, daily, tradeRepo, notificationSvc)
	executor.SetCapitalFunc(settingsSvc.CapitalFor)
	executor.SetReevalStore(reevalRepo)

	monitor := bot.NewMonitor(cfg.Monitor, riskParams, registry, locks, executor, exch,
		settingsSvc, notificationSvc)
	monitor.SetReevalStore(reevalRepo)

	syncer := bot.NewSynchronizer(registry, positionRepo, cfg.Monitor.FlushInterval)
	restored, err := syncer.LoadOnStartup(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	utils.Log.Infow("positions restored", "count", restored)

	reconciler := bot.NewReconciler(registry, exch, tradeRepo, notificationSvc,
		cfg.Monitor.ReconcileFreq, cfg.Monitor.ValidateFreq)

	go func() {
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			utils.Log.Errorw("monitor exited", "error", err)
		}
	}()
	go func() {
		if err := syncer.Run(ctx); err != nil && ctx.Err() == nil {
			utils.Log.Errorw("synchronizer exited", "error", err)
		}
	}()
	go func() {
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			utils.Log.Errorw("reconciler exited", "error", err)
		}
	}()

	// ============ WebSocket и HTTP API ============

	hub := websocket.NewHub()
	go hub.Run()
	notificationSvc.SetWebSocketHub(hub)

	router := api.SetupRoutes(&api.Dependencies{
		APIToken: cfg.Security.APIToken,

		Registry: registry,
		Executor: executor,
		Monitor:  monitor,
		Gate:     gate,
		Daily:    daily,

		SettingsService:     settingsSvc,
		StatsService:        statsSvc,
		NotificationService: notificationSvc,

		ReevalLog: reevalRepo,

		Hub: hub,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		utils.Log.Infow("server started", "addr", server.Addr, "https", cfg.Server.UseHTTPS)
		if cfg.Server.UseHTTPS {
			serverErr <- server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			serverErr <- server.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
	}

	// ============ graceful shutdown ============

	utils.Log.Infow("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Log.Warnw("server shutdown", "error", err)
	}

	// Последний flush реестра, чтобы не потерять dirty-позиции
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := syncer.Flush(flushCtx); err != nil {
		utils.Log.Errorw("final flush failed", "error", err)
	}

	utils.Log.Infow("stopped")
	return nil
}

// buildExchange собирает биржевой клиент по переменной EXCHANGE
//
// paper (дефолт) - симулятор для разработки и тестовых прогонов,
// bybit - боевой клиент. API ключи принимаются либо открытым текстом
// (BYBIT_API_KEY / BYBIT_API_SECRET), либо зашифрованными ключом
// ENCRYPTION_KEY (BYBIT_API_KEY_ENC / BYBIT_API_SECRET_ENC).
func buildExchange(cfg *config.Config) (exchange.Exchange, error) {
	switch os.Getenv("EXCHANGE") {
	case "", "paper":
		return exchange.NewPaperExchange(100000), nil

	case "bybit":
		apiKey, err := exchangeCredential(cfg, "BYBIT_API_KEY")
		if err != nil {
			return nil, err
		}
		secret, err := exchangeCredential(cfg, "BYBIT_API_SECRET")
		if err != nil {
			return nil, err
		}
		if apiKey == "" || secret == "" {
			return nil, fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET are required for EXCHANGE=bybit")
		}
		testnet := os.Getenv("BYBIT_TESTNET") == "true"
		return exchange.NewBybitClient(apiKey, secret, testnet), nil

	default:
		return nil, fmt.Errorf("unknown EXCHANGE %q (paper, bybit)", os.Getenv("EXCHANGE"))
	}
}

// exchangeCredential читает ключ из env: сначала зашифрованный
// вариант <NAME>_ENC, потом открытый <NAME>
func exchangeCredential(cfg *config.Config, name string) (string, error) {
	if enc := os.Getenv(name + "_ENC"); enc != "" {
		encryptor, err := crypto.NewEncryptor(cfg.Security.EncryptionKey)
		if err != nil {
			return "", fmt.Errorf("encryptor: %w", err)
		}
		plain, err := encryptor.Decrypt(enc)
		if err != nil {
			return "", fmt.Errorf("decrypt %s_ENC: %w", name, err)
		}
		return plain, nil
	}
	return os.Getenv(name), nil
}
