// Package sentry wires error reporting. Initialization degrades gracefully:
// with no DSN configured every capture helper is a no-op, so callers never
// guard their calls.
package sentry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/telemetry"
)

// Init configures the global Sentry client. An empty DSN disables reporting
// without error.
func Init(cfg config.Config) error {
	if cfg.SentryDSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     "herald@" + cfg.Version,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			sanitizeEvent(event)
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	return nil
}

// Flush drains buffered events before shutdown.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// CaptureError reports err with optional tags and extras.
func CaptureError(err error, tags map[string]string, extras map[string]interface{}) {
	if err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	scope := hub.Scope()
	for k, v := range tags {
		scope.SetTag(k, v)
	}
	for k, v := range extras {
		scope.SetExtra(k, v)
	}
	hub.CaptureException(err)
}

// CaptureErrorWithContext reports err, tagging it with the request's
// correlation id so the event lines up with the log stream.
func CaptureErrorWithContext(ctx context.Context, err error, tags map[string]string, extras map[string]interface{}) {
	if err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}

	scope := hub.Scope()
	if correlationID := telemetry.GetCorrelationID(ctx); correlationID != "" {
		scope.SetTag("correlation_id", correlationID)
	}
	for k, v := range tags {
		scope.SetTag(k, v)
	}
	for k, v := range extras {
		scope.SetExtra(k, v)
	}
	hub.CaptureException(err)
}

// AddBreadcrumb records a trail event on the current scope.
func AddBreadcrumb(category, message string, level sentry.Level, data map[string]interface{}) {
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Level:    level,
		Data:     data,
	})
}

// sanitizeEvent strips credentials before events leave the process.
func sanitizeEvent(event *sentry.Event) {
	if event.Request != nil {
		delete(event.Request.Headers, "Authorization")
		delete(event.Request.Headers, "Cookie")
		delete(event.Request.Headers, "X-Cron-Secret")
		delete(event.Request.Headers, "X-Webhook-Signature")
	}
}
