package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZerolog_SharesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerolog(&buf, slog.LevelWarn, "influx")

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "influx", entry["component"])
	assert.Equal(t, "kept", entry["message"])
}

func TestZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, zerologLevel(slog.LevelDebug))
	assert.Equal(t, zerolog.InfoLevel, zerologLevel(slog.LevelInfo))
	assert.Equal(t, zerolog.WarnLevel, zerologLevel(slog.LevelWarn))
	assert.Equal(t, zerolog.ErrorLevel, zerologLevel(slog.LevelError))
}

func TestPassLogger(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l *PassLogger)
		level string
	}{
		{"debug", func(l *PassLogger) { l.Debug("pass ran", "pass", "battery", "vehicles", 3) }, "debug"},
		{"info", func(l *PassLogger) { l.Info("pass ran", "pass", "battery", "vehicles", 3) }, "info"},
		{"error", func(l *PassLogger) { l.Error("pass ran", "pass", "battery", "vehicles", 3) }, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewPassLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))
			tt.log(l)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "pass ran", entry["message"])
			assert.Equal(t, "battery", entry["pass"])
			assert.Equal(t, float64(3), entry["vehicles"])
		})
	}
}

func TestToFields_IgnoresOddAndNonStringKeys(t *testing.T) {
	fields := toFields([]any{"a", 1, 2, "b", "dangling"})
	assert.Equal(t, map[string]any{"a": 1}, fields)
}
