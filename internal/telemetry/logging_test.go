package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	logger, err := NewLogger(&LogConfig{Level: level, Format: "json", Output: "stdout"})
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	return logger, buf
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewLoggerParsesLevel(t *testing.T) {
	logger, err := NewLogger(&LogConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	// Garbage levels fall back to info rather than failing startup.
	logger, err = NewLogger(&LogConfig{Level: "shouting", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestJSONFormatUsesRenamedKeys(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.Info("ready")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "ready", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "timestamp")
}

func TestWithContextCarriesCorrelationID(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "corr-42")
	logger.WithContext(ctx).Info("handled")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "corr-42", entry["correlation_id"])
}

func TestContextualLoggerFieldMerging(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.WithComponent("orchestrator").
		WithFields(logrus.Fields{"channel": "email"}).
		WithField("provider", "resend").
		WithError(errors.New("kaput")).
		Warnf("delivery %s", "failed")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "orchestrator", entry["component"])
	assert.Equal(t, "email", entry["channel"])
	assert.Equal(t, "resend", entry["provider"])
	assert.Equal(t, "kaput", entry["error"])
	assert.Equal(t, "delivery failed", entry["message"])
	assert.Equal(t, "warning", entry["level"])
}

func TestContextualLoggerDoesNotMutateParent(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	parent := logger.WithComponent("queue")
	_ = parent.WithField("item_id", "abc")

	parent.Info("pass complete")

	entry := decodeLogLine(t, buf)
	assert.NotContains(t, entry, "item_id")
}

func TestWithCorrelationIDMintsWhenEmpty(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")

	id := GetCorrelationID(ctx)
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestGetCorrelationIDMissing(t *testing.T) {
	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestLogFromContextUsesGlobalLogger(t *testing.T) {
	require.NoError(t, InitGlobalLogger(&LogConfig{Level: "info", Format: "json", Output: "stdout"}))

	buf := &bytes.Buffer{}
	GetGlobalLogger().SetOutput(buf)

	ctx := WithCorrelationID(context.Background(), "corr-7")
	LogFromContext(ctx).Info("queued")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "corr-7", entry["correlation_id"])
}
