package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log - глобальный логгер приложения
//
// Инициализируется один раз в main через InitLogger.
// До инициализации - no-op логгер, чтобы тесты не падали на nil.
var Log *zap.SugaredLogger = zap.NewNop().Sugar()

// InitLogger настраивает глобальный zap логгер
//
// Параметры:
//   - level: debug, info, warn, error
//   - format: json (production) или console (разработка)
func InitLogger(level, format string) error {
	var cfg zap.Config

	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return err
	}

	Log = logger.Sugar()
	return nil
}

// SyncLogger сбрасывает буферы логгера (вызывать при shutdown)
func SyncLogger() {
	_ = Log.Sync()
}
