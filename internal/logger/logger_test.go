package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/Additional-Code/orderflow/internal/config"
)

func TestZapConfig(t *testing.T) {
	tests := []struct {
		name     string
		obs      config.Observability
		encoding string
		level    zapcore.Level
	}{
		{"json default", config.Observability{LogLevel: "info", LogEncoding: "json"}, "json", zapcore.InfoLevel},
		{"console debug", config.Observability{LogLevel: "debug", LogEncoding: "console"}, "console", zapcore.DebugLevel},
		{"unknown level falls back", config.Observability{LogLevel: "loud", LogEncoding: "json"}, "json", zapcore.InfoLevel},
		{"unknown encoding is json", config.Observability{LogLevel: "warn", LogEncoding: "logfmt"}, "json", zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := zapConfig(tt.obs)
			assert.Equal(t, tt.encoding, cfg.Encoding)
			assert.Equal(t, tt.level, cfg.Level.Level())
		})
	}
}

func TestBuild(t *testing.T) {
	logger, err := Build(config.Observability{ServiceName: "orderflow", Environment: "test", LogLevel: "error", LogEncoding: "json"})
	assert.NoError(t, err)
	assert.NotNil(t, logger)
}
