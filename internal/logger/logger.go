package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New は環境に応じたロガーを返す。prod はJSON、dev は色付きのコンソール出力。
func New(prod bool) (*zap.Logger, error) {
	if prod {
		return zap.NewProduction()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}
