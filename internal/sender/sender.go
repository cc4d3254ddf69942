// Package sender implements the provider adapter layer: one adapter per
// (channel, provider) behind the notification.Sender contract. Adapters own
// request shaping, auth, response classification, per-provider circuit
// breakers, bounded retries, and quota accounting. Targets, preference
// gates, and the audit trail stay with the orchestrator.
package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/resilience"
)

// ErrTokenGone marks a provider verdict that a device token or push
// subscription no longer exists. The push sender surfaces these tokens for
// deactivation instead of retrying them.
var ErrTokenGone = errors.New("device token no longer valid")

// deadToken wraps a provider rejection of a token so errors.Is(err,
// ErrTokenGone) holds through the AppError chain.
func deadToken(provider, reason string) error {
	return apperrors.Wrap(apperrors.CodeValidation,
		fmt.Sprintf("%s rejected device token (%s)", provider, reason), ErrTokenGone)
}

// classifyStatus folds a non-2xx provider HTTP status into the error
// taxonomy: 429 and 5xx are retryable, auth failures and the remaining 4xx
// are definitive.
func classifyStatus(provider string, status int, detail string) error {
	msg := fmt.Sprintf("%s returned %d", provider, status)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	switch {
	case status == 429:
		return apperrors.New(apperrors.CodeRateLimited, msg)
	case status >= 500:
		return apperrors.New(apperrors.CodeServiceUnavail, msg)
	case status == 401 || status == 403:
		return apperrors.New(apperrors.CodeUnauthenticated, msg)
	default:
		return apperrors.New(apperrors.CodeValidation, msg)
	}
}

// classifyNetworkError folds a transport-level failure into the taxonomy.
// Timeouts and refused connections are retryable.
func classifyNetworkError(provider string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return apperrors.Wrap(apperrors.CodeTimeout, provider+" request timed out", err)
	}
	return apperrors.Wrap(apperrors.CodeServiceUnavail, provider+" request failed", err)
}

// resultCode maps a classified error onto the short code recorded in
// DeliveryOutcome.ErrorCode and the delivery log.
func resultCode(err error) string {
	if errors.Is(err, ErrTokenGone) {
		return "invalid_token"
	}
	switch apperrors.CodeOf(err) {
	case apperrors.CodeCircuitOpen:
		return "circuit_open"
	case apperrors.CodeRateLimited:
		return "rate_limited"
	case apperrors.CodeTimeout, apperrors.CodeDeadlineExceeded:
		return "timeout"
	case apperrors.CodeServiceUnavail:
		return "provider_unavailable"
	case apperrors.CodeQuotaExhausted:
		return "quota_exhausted"
	case apperrors.CodeSuppressedAddress:
		return "suppressed_address"
	case apperrors.CodeUnauthenticated:
		return "provider_auth"
	case apperrors.CodeValidation:
		return "rejected"
	default:
		return "provider_error"
	}
}

// maskSecret shortens a credential for log lines.
func maskSecret(s string) string {
	if len(s) <= 5 {
		return "***"
	}
	return s[:5] + "***"
}

// sendThrough runs one provider call under the named circuit breaker with
// the given retry policy. The breaker sees every attempt; an open breaker
// stops the retry loop with a CIRCUIT_OPEN error and no network call.
func sendThrough(ctx context.Context, circuits *resilience.CircuitManager, name string, retry resilience.RetryConfig, op func() error) (int, error) {
	return resilience.Retry(ctx, retry, func() error {
		_, err := circuits.Execute(name, func() (interface{}, error) {
			return nil, op()
		})
		return err
	})
}

// latencyMs converts an elapsed duration to the millisecond counter carried
// in outcomes, rounding sub-millisecond calls up to 1.
func latencyMs(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms <= 0 {
		return 1
	}
	return ms
}
