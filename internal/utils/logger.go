package utils

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level string, development bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// LogEvent writes a standardized line with module/action/request_id.
// Avoid logging sensitive payload; message should be summarized.
func LogEvent(logger *zap.Logger, requestID, module, action, message string) {
	if logger == nil {
		return
	}
	logger.Info(message,
		zap.String("module", strings.ToUpper(module)),
		zap.String("action", action),
		zap.String("request_id", strings.TrimSpace(requestID)),
	)
}
