package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger("", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.True(t, logger.ReportCaller)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger("loud", FormatText)
	require.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, err := NewLogger("info", "xml")
	require.Error(t, err)
}

func TestNewLogger_JSONAddsSource(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "DEBUG", FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("session", "abcd1234").Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "abcd1234", entry["session"])
	src, ok := entry["x_file_source"].(string)
	require.True(t, ok, "x_file_source missing: %v", entry)
	assert.True(t, strings.HasPrefix(src, "logger_test.go:"), src)
}
