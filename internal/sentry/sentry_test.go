package sentry

import (
	"context"
	"errors"
	"testing"

	gosentry "github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/telemetry"
)

func TestInitEmptyDSNDisables(t *testing.T) {
	assert.NoError(t, Init(config.Config{SentryDSN: ""}))
}

func TestCaptureErrorWithoutInit(t *testing.T) {
	// All helpers must be safe before (or without) Init.
	CaptureError(nil, nil, nil)
	CaptureError(errors.New("boom"), map[string]string{"provider": "apns"}, map[string]interface{}{"attempt": 3})
}

func TestCaptureErrorWithContext(t *testing.T) {
	CaptureErrorWithContext(context.Background(), nil, nil, nil)

	ctx := telemetry.WithCorrelationID(context.Background(), "corr-123")
	CaptureErrorWithContext(ctx, errors.New("boom"), nil, nil)
}

func TestAddBreadcrumb(t *testing.T) {
	AddBreadcrumb("queue", "claimed batch", gosentry.LevelInfo, nil)
	AddBreadcrumb("queue", "batch failed", gosentry.LevelError, map[string]interface{}{"claimed": 4})
}

func TestSanitizeEventStripsCredentials(t *testing.T) {
	event := &gosentry.Event{
		Request: &gosentry.Request{
			Headers: map[string]string{
				"Authorization":       "Bearer token",
				"X-Cron-Secret":       "secret",
				"X-Webhook-Signature": "sig",
				"Content-Type":        "application/json",
			},
		},
	}

	sanitizeEvent(event)

	assert.NotContains(t, event.Request.Headers, "Authorization")
	assert.NotContains(t, event.Request.Headers, "X-Cron-Secret")
	assert.NotContains(t, event.Request.Headers, "X-Webhook-Signature")
	assert.Contains(t, event.Request.Headers, "Content-Type")
}
