package evs

import (
	"log/slog"
	"os"
)

var (
	logLevel = new(slog.LevelVar)
	logger   = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
)

// SetDebugMode 设置调试模式
func SetDebugMode(enabled bool) {
	if enabled {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}
}

// IsDebugMode 是否调试模式
func IsDebugMode() bool {
	return logLevel.Level() == slog.LevelDebug
}

// LogDebug 调试日志
func LogDebug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// LogInfo 信息日志
func LogInfo(msg string, args ...any) {
	logger.Info(msg, args...)
}

// LogWarn 警告日志
func LogWarn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// LogError 错误日志
func LogError(msg string, args ...any) {
	logger.Error(msg, args...)
}
