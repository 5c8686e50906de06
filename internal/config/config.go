package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Monitor  MonitorConfig
	Risk     RiskConfig
	Telegram TelegramConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APIToken      string // токен доступа к REST API
	EncryptionKey string // AES-256 ключ для API ключей бирж
}

// MonitorConfig - настройки цикла мониторинга позиций
type MonitorConfig struct {
	TickInterval    time.Duration // период тика монитора
	Workers         int           // параллельных проверок позиций за тик
	PriceFetchLimit int           // параллельных запросов цен
	DynamicFreq     time.Duration // период динамического пересмотра SL/TP по ATR

	FlushInterval   time.Duration // период записи dirty-позиций в БД
	ReconcileFreq   time.Duration // период сверки реестра с биржей
	ValidateFreq    time.Duration // период валидации после рестарта
	SettingsRefresh time.Duration // период перечитывания настроек пользователей
	LockMaxAge      time.Duration // возраст, после которого блокировка считается зависшей

	MaxHoldHours   float64 // дефолтный максимум удержания позиции
	OrderRateLimit int     // ордеров в секунду на биржу
}

// RiskConfig - настройки риск-движка
type RiskConfig struct {
	ATRPeriod       int
	ATRMultiplierSL float64
	ATRMultiplierTP float64
	MinRiskReward   float64
	MinStopLossPct  float64
	MaxStopLossPct  float64

	KellyMinTrades int

	VaRConfidence float64
	VaRBlockPct   float64
	VaRWarnPct    float64

	MaintenanceMargin float64 // ставка поддерживающей маржи для расчёта ликвидации

	DailyCooldown     time.Duration // пауза после серии убытков
	ConsecutiveLosses int
}

// TelegramConfig - настройки телеграм-уведомлений
type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID   int64
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "positionbot"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APIToken:      getEnv("API_TOKEN", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Monitor: MonitorConfig{
			TickInterval:    getEnvAsDuration("MONITOR_TICK_INTERVAL", 2*time.Second),
			Workers:         getEnvAsInt("MONITOR_WORKERS", 8),
			PriceFetchLimit: getEnvAsInt("PRICE_FETCH_LIMIT", 20),
			DynamicFreq:     getEnvAsDuration("DYNAMIC_REEVAL_FREQ", time.Minute),

			FlushInterval:   getEnvAsDuration("FLUSH_INTERVAL", 30*time.Second),
			ReconcileFreq:   getEnvAsDuration("RECONCILE_FREQ", 5*time.Minute),
			ValidateFreq:    getEnvAsDuration("VALIDATE_FREQ", 60*time.Second),
			SettingsRefresh: getEnvAsDuration("SETTINGS_REFRESH", 60*time.Second),
			LockMaxAge:      getEnvAsDuration("LOCK_MAX_AGE", 2*time.Minute),

			MaxHoldHours:   getEnvAsFloat("MAX_HOLD_HOURS", 12),
			OrderRateLimit: getEnvAsInt("ORDER_RATE_LIMIT", 5),
		},
		Risk: RiskConfig{
			ATRPeriod:       getEnvAsInt("ATR_PERIOD", 14),
			ATRMultiplierSL: getEnvAsFloat("ATR_MULT_SL", 1.5),
			ATRMultiplierTP: getEnvAsFloat("ATR_MULT_TP", 3.0),
			MinRiskReward:   getEnvAsFloat("MIN_RISK_REWARD", 1.5),
			MinStopLossPct:  getEnvAsFloat("MIN_STOP_LOSS_PCT", 0.5),
			MaxStopLossPct:  getEnvAsFloat("MAX_STOP_LOSS_PCT", 10),

			KellyMinTrades: getEnvAsInt("KELLY_MIN_TRADES", 20),

			VaRConfidence: getEnvAsFloat("VAR_CONFIDENCE", 0.95),
			VaRBlockPct:   getEnvAsFloat("VAR_BLOCK_PCT", 10),
			VaRWarnPct:    getEnvAsFloat("VAR_WARN_PCT", 5),

			MaintenanceMargin: getEnvAsFloat("MAINTENANCE_MARGIN", 0.005),

			DailyCooldown:     getEnvAsDuration("DAILY_COOLDOWN", 4*time.Hour),
			ConsecutiveLosses: getEnvAsInt("CONSECUTIVE_LOSSES", 5),
		},
		Telegram: TelegramConfig{
			Enabled:  getEnvAsBool("TELEGRAM_ENABLED", false),
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования API ключей бирж
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	if c.Security.APIToken == "" {
		return fmt.Errorf("API_TOKEN is required for API authentication")
	}

	if len(c.Security.APIToken) < 32 {
		return fmt.Errorf("API_TOKEN must be at least 32 characters for security")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED=true")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// Валидация параметров монитора
	if c.Monitor.TickInterval < 500*time.Millisecond {
		return fmt.Errorf("MONITOR_TICK_INTERVAL must be at least 500ms, got %v", c.Monitor.TickInterval)
	}

	if c.Monitor.Workers < 1 {
		return fmt.Errorf("MONITOR_WORKERS must be positive, got %d", c.Monitor.Workers)
	}

	if c.Monitor.FlushInterval <= 0 {
		return fmt.Errorf("FLUSH_INTERVAL must be positive, got %v", c.Monitor.FlushInterval)
	}

	if c.Monitor.MaxHoldHours <= 0 {
		return fmt.Errorf("MAX_HOLD_HOURS must be positive, got %v", c.Monitor.MaxHoldHours)
	}

	// Валидация параметров риска
	if c.Risk.MinStopLossPct <= 0 || c.Risk.MinStopLossPct >= c.Risk.MaxStopLossPct {
		return fmt.Errorf("stop loss bounds invalid: min %v, max %v",
			c.Risk.MinStopLossPct, c.Risk.MaxStopLossPct)
	}

	if c.Risk.VaRConfidence <= 0 || c.Risk.VaRConfidence >= 1 {
		return fmt.Errorf("VAR_CONFIDENCE must be in (0, 1), got %v", c.Risk.VaRConfidence)
	}

	if c.Risk.MaintenanceMargin < 0 || c.Risk.MaintenanceMargin > 0.1 {
		return fmt.Errorf("MAINTENANCE_MARGIN must be in [0, 0.1], got %v", c.Risk.MaintenanceMargin)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
