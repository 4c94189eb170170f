package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 全局日志记录器实例，未初始化前为空操作记录器
var L = zap.NewNop()

// `level`可以是"debug"、"info"、"warn"、"error"、"fatal"、"panic"。
// `isProduction`确定日志记录器是否使用JSON格式(生产)或控制台格式(开发)。
func InitLogger(level string, isProduction bool) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
		fmt.Fprintf(os.Stderr, "Warning: Invalid log level '%s', using default 'info'. Error: %v\n", level, err)
	}

	var (
		cfg zap.Config
		l   *zap.Logger
		err error
	)
	if isProduction {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	l, err = cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize zap logger: %w", err)
	}
	L = l.With(zap.String("service", "chat-relay"))

	L.Info("Zap logger initialized", zap.String("level", zapLevel.String()), zap.Bool("productionMode", isProduction))
	return nil
}

// Sync刷新任何缓冲的日志条目。
// 建议在应用程序退出之前调用它。
func Sync() {
	if L != nil {
		_ = L.Sync()
	}
}
