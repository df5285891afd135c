package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

// TestNew_NoOutputIsSilent ensures the default logger never touches the
// terminal the TUI is drawing on.
func TestNew_NoOutputIsSilent(t *testing.T) {
	log, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.ErrorLevel))
}

func TestNew_WritesJSONToFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.OutputPath = filepath.Join(t.TempDir(), "logs", "jiveplayer.log")

	log, err := New(cfg)
	require.NoError(t, err)
	log.Info("track loaded")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"track loaded"`), string(data))
	assert.True(t, strings.Contains(string(data), `"level":"info"`), string(data))
}
