package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger(t *testing.T) {
	t.Run("json format masks tokens", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, "info", "json")

		logger.Info("file url", "url", "https://api.telegram.org/file/bot8462697481:AAEJSXuTcb2F1Js2sWiK0TVWvxbHL9xX05Q/photos/1.jpg")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "file url", entry["msg"])
		assert.Equal(t, "https://api.telegram.org/file/bot<redacted>/photos/1.jpg", entry["url"])
	})

	t.Run("text format respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, "warn", "text")

		logger.Info("hidden")
		logger.Warn("shown")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "msg=shown")
	})
}

func TestTGBotAPIAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewTGBotAPIAdapter(NewLogger(&buf, "debug", "text"))

	adapter.Println("Failed to get updates, retrying in 3 seconds...")
	adapter.Printf("Endpoint: %s, params: %v", "getUpdates", map[string]string{"offset": "1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "level=WARN")
	assert.Contains(t, lines[0], "component=tgbotapi")
	assert.Contains(t, lines[1], "level=DEBUG")
	assert.Contains(t, lines[1], "Endpoint: getUpdates")
}
