// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kaidos-lab/notesift/internal/config"
)

// initToBuffer initializes the global logger against an in-memory buffer so
// tests can assert on the rendered output.
func initToBuffer(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitializeConsoleFormat(t *testing.T) {
	buf := initToBuffer(t, config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "testsvc",
	})

	GetLogger().Info("console message")

	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "console message")
	assert.Contains(t, output, colorGreen)
	assert.Contains(t, output, colorReset)
	assert.Contains(t, output, "testsvc.")
}

func TestInitializeJSONFormat(t *testing.T) {
	buf := initToBuffer(t, config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "jsonsvc",
	})

	GetLogger().Warn("structured message", zap.String("key", "value"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "jsonsvc", entry["logger"])
	assert.Equal(t, "structured message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestInitializeWritesLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "notesift.log")
	initToBuffer(t, config.LoggerConfig{
		Level:   "debug",
		Format:  "console",
		LogFile: logPath,
		MaxSize: 1,
	})

	GetLogger().Error("file-bound message")
	Sync()

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "file-bound message")
}

func TestInitializeOnlyOnce(t *testing.T) {
	buf := initToBuffer(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"})

	// A second initialization must be a no-op.
	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "second"}, zapcore.AddSync(&bytes.Buffer{}))

	GetLogger().Info("probe")
	assert.Contains(t, buf.String(), "first")
	assert.NotContains(t, buf.String(), "second")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	buf := initToBuffer(t, config.LoggerConfig{Level: "not-a-level", Format: "json"})

	GetLogger().Debug("should be filtered")
	GetLogger().Info("should appear")

	assert.NotContains(t, buf.String(), "should be filtered")
	assert.Contains(t, buf.String(), "should appear")
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)

	// Sync on an uninitialized global is a safe no-op.
	Sync()
}
