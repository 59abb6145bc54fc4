package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	logger, err := NewLogger("test-component")
	require.NoError(t, err)
	defer logger.Close()

	logger.Infof("hello %s", "world")
	logger.Warnf("something odd: %d", 42)

	data, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "[test-component]")
	assert.Contains(t, content, "[INFO] hello world")
	assert.Contains(t, content, "[WARN] something odd: 42")
}

func TestLoggerSharedSessionID(t *testing.T) {
	a, err := NewLogger("component-a")
	require.NoError(t, err)
	defer a.Close()

	b, err := NewLogger("component-b")
	require.NoError(t, err)
	defer b.Close()

	// Loggers created within one process share a session and a log file
	assert.Equal(t, a.SessionID(), b.SessionID())
	assert.Equal(t, a.LogPath(), b.LogPath())
}

func TestLoggerCloseIsIdempotent(t *testing.T) {
	logger, err := NewLogger("close-test")
	require.NoError(t, err)

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestLogEntryFormat(t *testing.T) {
	logger, err := NewLogger("fmt-test")
	require.NoError(t, err)
	defer logger.Close()

	entry := logger.formatLogEntry("DEBUG", "message body")
	assert.True(t, strings.HasPrefix(entry, "["))
	assert.Contains(t, entry, "[fmt-test]")
	assert.Contains(t, entry, "[DEBUG]")
	assert.True(t, strings.HasSuffix(entry, "message body"))
}
