package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesToConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup(Config{Level: slog.LevelInfo, Console: &buf})
	require.NoError(t, err)
	defer closer()

	logger.Info("hello", "key", "value")
	assert.Contains(t, buf.String(), "hello")
}

func TestSetupWritesToLogFile(t *testing.T) {
	var buf bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "agent.log")

	logger, closer, err := Setup(Config{Level: slog.LevelInfo, Console: &buf, LogFilePath: logPath})
	require.NoError(t, err)
	logger.Info("file message")
	require.NoError(t, closer())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file message")
}

func TestSetupRespectsLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup(Config{Level: slog.LevelWarn, Console: &buf})
	require.NoError(t, err)
	defer closer()

	logger.Debug("should not appear")
	logger.Warn("should appear")

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestMultiHandlerEnabledIfAnyChildEnabled(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelError})
	h2 := slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelDebug})
	mh := newMultiHandler(h1, h2)

	assert.True(t, mh.Enabled(nil, slog.LevelDebug))
	assert.True(t, mh.Enabled(nil, slog.LevelError))
}

func TestMultiHandlerHandleFansOutToEligibleChildrenOnly(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelError})
	h2 := slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(newMultiHandler(h1, h2))

	logger.Debug("debug message")

	assert.Empty(t, buf1.String())
	assert.Contains(t, buf2.String(), "debug message")
}

func TestMultiHandlerWithAttrsPropagatesToAllChildren(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := slog.NewTextHandler(&buf1, nil)
	h2 := slog.NewTextHandler(&buf2, nil)
	logger := slog.New(newMultiHandler(h1, h2)).With("component", "test")

	logger.Info("tagged")

	assert.Contains(t, buf1.String(), "component=test")
	assert.Contains(t, buf2.String(), "component=test")
}
