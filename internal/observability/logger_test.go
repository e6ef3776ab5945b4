// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/siteprobe-cli/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newBufferSink gives each test an isolated console destination.
func newBufferSink(t *testing.T) (*bytes.Buffer, zapcore.WriteSyncer) {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	buf := &bytes.Buffer{}
	return buf, zapcore.AddSync(buf)
}

func TestInitialize(t *testing.T) {
	t.Run("console logger colorizes levels", func(t *testing.T) {
		buf, sink := newBufferSink(t)

		cfg := config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "siteprobe",
			Colors:      config.ColorConfig{Info: "green"},
		}
		logger := Initialize(cfg, sink)
		logger.Named("fetcher").Info("fetched page")

		output := buf.String()
		assert.Contains(t, output, colorGreen+"INFO"+colorReset)
		assert.Contains(t, output, "siteprobe.fetcher.")
		assert.Contains(t, output, "fetched page")
	})

	t.Run("json logger emits structured entries", func(t *testing.T) {
		buf, sink := newBufferSink(t)

		cfg := config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}
		logger := Initialize(cfg, sink)
		logger.Warn("rate limited", zap.String("url", "https://example.com"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be valid JSON")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "rate limited", entry["msg"])
		assert.Equal(t, "https://example.com", entry["url"])
	})

	t.Run("level filter drops debug entries", func(t *testing.T) {
		buf, sink := newBufferSink(t)

		logger := Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, sink)
		logger.Debug("hidden")
		logger.Info("hidden too")
		assert.Empty(t, buf.String())
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		buf, sink := newBufferSink(t)

		logger := Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, sink)
		logger.Debug("hidden")
		logger.Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("writes rotating log file when configured", func(t *testing.T) {
		_, sink := newBufferSink(t)
		logPath := filepath.Join(t.TempDir(), "siteprobe.log")

		cfg := config.LoggerConfig{Level: "debug", Format: "console", LogFile: logPath, MaxSize: 1}
		logger := Initialize(cfg, sink)
		logger.Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
		// The file core is always JSON, even with a console front end.
		assert.Contains(t, string(content), `"level":"ERROR"`)
	})

	t.Run("only the first initialization wins", func(t *testing.T) {
		buf, sink := newBufferSink(t)

		first := Initialize(config.LoggerConfig{Level: "info", ServiceName: "First"}, sink)
		second := Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, sink)

		assert.Same(t, first, second)
		second.Info("test")
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("returns a fallback logger when not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("returns the global logger after initialization", func(t *testing.T) {
		_, sink := newBufferSink(t)
		logger := Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, sink)
		assert.Same(t, logger, GetLogger())
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
