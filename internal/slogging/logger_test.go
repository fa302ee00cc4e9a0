package slogging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{"debug lowercase", "debug", LogLevelDebug},
		{"debug uppercase", "DEBUG", LogLevelDebug},
		{"debug mixed case", "Debug", LogLevelDebug},
		{"info lowercase", "info", LogLevelInfo},
		{"info uppercase", "INFO", LogLevelInfo},
		{"warn lowercase", "warn", LogLevelWarn},
		{"warning lowercase", "warning", LogLevelWarn},
		{"error lowercase", "error", LogLevelError},
		{"error uppercase", "ERROR", LogLevelError},
		{"unknown defaults to info", "unknown", LogLevelInfo},
		{"empty defaults to info", "", LogLevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLogLevel(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LogLevelDebug, "DEBUG"},
		{LogLevelInfo, "INFO"},
		{LogLevelWarn, "WARN"},
		{LogLevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.level.String()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLogLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LogLevelDebug, slog.LevelDebug},
		{LogLevelInfo, slog.LevelInfo},
		{LogLevelWarn, slog.LevelWarn},
		{LogLevelError, slog.LevelError},
		{LogLevel(99), slog.LevelInfo}, // Unknown defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			result := tt.level.toSlogLevel()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func newBufferLogger(t *testing.T, level LogLevel, isDev bool) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger, err := NewLogger(Config{Level: level, IsDev: isDev, Output: buf})
	require.NoError(t, err)
	return logger, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	return records
}

func TestNewLogger(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("creates rotated file logger by default", func(t *testing.T) {
		logger, err := NewLogger(Config{LogDir: tempDir})
		require.NoError(t, err)
		defer func() { _ = logger.Close() }()

		assert.NotNil(t, logger.slogger)
		require.NotNil(t, logger.fileLogger)
		assert.Equal(t, filepath.Join(tempDir, "painter.log"), logger.fileLogger.Filename)
		assert.Equal(t, 7, logger.fileLogger.MaxAge)
		assert.Equal(t, 100, logger.fileLogger.MaxSize)
	})

	t.Run("creates log directory", func(t *testing.T) {
		dir := filepath.Join(tempDir, "nested", "logs")
		logger, err := NewLogger(Config{LogDir: dir})
		require.NoError(t, err)
		defer func() { _ = logger.Close() }()

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("output writer replaces the file", func(t *testing.T) {
		logger, _ := newBufferLogger(t, LogLevelDebug, false)
		assert.Nil(t, logger.fileLogger)
		assert.Equal(t, LogLevelDebug, logger.Level())
	})

	t.Run("dev mode", func(t *testing.T) {
		logger, _ := newBufferLogger(t, LogLevelInfo, true)
		assert.True(t, logger.isDev)
	})

	t.Run("invalid elision pattern", func(t *testing.T) {
		_, err := NewLogger(Config{
			Output:        &bytes.Buffer{},
			ElisionConfig: &ElisionConfig{Enabled: true, Rules: []ElisionRule{{FieldPattern: "(", Action: ElisionOmit}}},
		})
		assert.Error(t, err)
	})
}

func TestLogger_LogMethods(t *testing.T) {
	t.Run("printf style messages", func(t *testing.T) {
		logger, buf := newBufferLogger(t, LogLevelDebug, false)

		logger.Debug("debug message with args: %s", "value")
		logger.Info("info message")
		logger.Warn("warning %d", 3)
		logger.Error("error message")

		records := decodeLines(t, buf)
		require.Len(t, records, 4)
		assert.Equal(t, "debug message with args: value", records[0]["msg"])
		assert.Equal(t, "DEBUG", records[0]["level"])
		assert.Equal(t, "INFO", records[1]["level"])
		assert.Equal(t, "warning 3", records[2]["msg"])
		assert.Equal(t, "ERROR", records[3]["level"])
	})

	t.Run("level filtering", func(t *testing.T) {
		logger, buf := newBufferLogger(t, LogLevelError, false)

		logger.Debug("debug message")
		logger.Info("info message")
		logger.Warn("warn message")
		logger.Error("error message")

		records := decodeLines(t, buf)
		require.Len(t, records, 1)
		assert.Equal(t, "error message", records[0]["msg"])
	})

	t.Run("messages are sanitized", func(t *testing.T) {
		logger, buf := newBufferLogger(t, LogLevelInfo, false)

		logger.Info("line one\nfake entry\tend")

		records := decodeLines(t, buf)
		require.Len(t, records, 1)
		assert.Equal(t, "line one fake entry end", records[0]["msg"])
	})

	t.Run("data urls in messages are elided", func(t *testing.T) {
		logger, buf := newBufferLogger(t, LogLevelInfo, false)

		logger.Info("received %s", "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg==")

		assert.NotContains(t, buf.String(), "iVBORw0KGgo")
		assert.Contains(t, buf.String(), "data:image/png;base64")
	})
}

func TestLogger_ContextMethods(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelDebug, false)
	ctx := context.Background()

	logger.DebugCtx(ctx, "debug context message", slog.String("key", "value"))
	logger.InfoCtx(ctx, "info context message", slog.Int("count", 5))
	logger.WarnCtx(ctx, "warn context message", slog.Bool("flag", true))
	logger.ErrorCtx(ctx, "error context message", slog.Any("error", "test error"))

	records := decodeLines(t, buf)
	require.Len(t, records, 4)
	assert.Equal(t, "value", records[0]["key"])
	assert.Equal(t, float64(5), records[1]["count"])
	assert.Equal(t, true, records[2]["flag"])
	assert.Equal(t, "test error", records[3]["error"])
}

func TestLogger_GetSlogger(t *testing.T) {
	logger, _ := newBufferLogger(t, LogLevelInfo, false)

	slogger := logger.GetSlogger()
	assert.NotNil(t, slogger)
	assert.IsType(t, &slog.Logger{}, slogger)
}

func TestLogger_Close(t *testing.T) {
	t.Run("close with file logger", func(t *testing.T) {
		logger, err := NewLogger(Config{LogDir: t.TempDir()})
		require.NoError(t, err)
		assert.NoError(t, logger.Close())
	})

	t.Run("close without file logger", func(t *testing.T) {
		logger := &Logger{fileLogger: nil}
		assert.NoError(t, logger.Close())
	})
}

func TestSourceHandler(t *testing.T) {
	t.Run("dev mode adds source info", func(t *testing.T) {
		logger, buf := newBufferLogger(t, LogLevelInfo, true)
		logger.Info("test message")
		assert.Contains(t, buf.String(), "source=")
	})

	t.Run("prod mode has no source info", func(t *testing.T) {
		logger, buf := newBufferLogger(t, LogLevelInfo, false)
		logger.Info("test message")

		records := decodeLines(t, buf)
		require.Len(t, records, 1)
		_, hasSource := records[0]["source"]
		assert.False(t, hasSource)
	})
}

func TestLogLevelConstants(t *testing.T) {
	assert.Equal(t, LogLevel(0), LogLevelDebug)
	assert.Equal(t, LogLevel(1), LogLevelInfo)
	assert.Equal(t, LogLevel(2), LogLevelWarn)
	assert.Equal(t, LogLevel(3), LogLevelError)
}
