package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"ERROR", zapcore.ErrorLevel},
		{" warn ", zapcore.WarnLevel},
		{"fatal", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.level))

			l, err := NewLogger(tt.level, "json", "fall-test")
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNewCore_JSONRecord(t *testing.T) {
	var buf bytes.Buffer
	l := zap.New(newCore(zapcore.AddSync(&buf), zapcore.InfoLevel, "json"),
		zap.Fields(zap.String("service_name", "fall-status")))

	l.Debug("hidden")
	l.Info("Fall status changed", zap.Bool("falling", true))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "Fall status changed", rec["msg"])
	assert.Equal(t, "fall-status", rec["service_name"])
	assert.Equal(t, true, rec["falling"])
	assert.Contains(t, rec, "timestamp")
}

func TestNewCore_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := zap.New(newCore(zapcore.AddSync(&buf), zapcore.DebugLevel, "Console"))

	l.Debug("Classified reading", zap.Int("sensor_id", 3))

	out := buf.String()
	assert.Contains(t, out, "Classified reading")
	assert.Contains(t, out, `"sensor_id": 3`)
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}
