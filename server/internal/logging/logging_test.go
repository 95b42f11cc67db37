package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperwatch/copperwatch/server/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_FileOutputJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cw.log")
	logger, w := New(config.LogConfig{Level: "info", Format: "json", Output: "file", File: p, MaxSizeMB: 1})

	logger.Debug("hidden")
	logger.Info("alerts: rule fired", "rule", "breakout")
	require.NoError(t, w.Close())

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "alerts: rule fired", rec["msg"])
	assert.Equal(t, "breakout", rec["rule"])
}

func TestNew_TextFormat(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cw.log")
	logger, w := New(config.LogConfig{Level: "debug", Format: "text", Output: "file", File: p})
	logger.Debug("monitor: pass complete", "fired", 2)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `msg="monitor: pass complete" fired=2`)
}

func TestNew_StdStreamsCloseIsNoop(t *testing.T) {
	for _, out := range []string{"stdout", "stderr"} {
		_, w := New(config.LogConfig{Output: out})
		assert.NoError(t, w.Close())
	}
}
