package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.level))
		})
	}
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Info, GormLogLevel("debug"))
	assert.Equal(t, logger.Warn, GormLogLevel("info"))
	assert.Equal(t, logger.Warn, GormLogLevel("warning"))
	assert.Equal(t, logger.Error, GormLogLevel("error"))
	assert.Equal(t, logger.Silent, GormLogLevel("silent"))
}

func TestLogLevelFlag(t *testing.T) {
	f := &logLevelFlag{value: "info"}
	assert.False(t, f.IsSet())
	assert.Error(t, f.Set("loud"))
	assert.NoError(t, f.Set("debug"))
	assert.True(t, f.IsSet())
	assert.Equal(t, "debug", f.String())
}
