// Package logger holds the process-global structured logger. Init is called
// once from the composition root; packages log through logger.Log with typed
// zap fields.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log = zap.NewNop()

// Init configures the global logger. Level is one of debug/info/warn/error;
// empty falls back to the CHAT_LOG_LEVEL env var, then to info.
func Init(level string) {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		lvl = strings.ToLower(strings.TrimSpace(os.Getenv("CHAT_LOG_LEVEL")))
	}

	var zl zapcore.Level
	switch lvl {
	case "debug":
		zl = zapcore.DebugLevel
	case "warn", "warning":
		zl = zapcore.WarnLevel
	case "error":
		zl = zapcore.ErrorLevel
	default:
		zl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		// Building a production config only fails on bad output paths; keep
		// the nop logger rather than crashing during startup.
		return
	}
	Log = l
}

// Sync flushes buffered log entries; safe to call on shutdown.
func Sync() {
	_ = Log.Sync()
}
