package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// RetryConfig controls the retry loop around a single provider call.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialInterval is the first backoff delay; it doubles per retry.
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
	// Budget, when set, is consulted before every retry.
	Budget *RetryBudget
}

// DefaultRetryConfig is the per-adapter default: one retry, 1 s backoff.
func DefaultRetryConfig(budget *RetryBudget) RetryConfig {
	return RetryConfig{
		MaxRetries:      1,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Budget:          budget,
	}
}

// Retry runs op until it succeeds, fails with a non-retryable error, the
// retry count or budget is exhausted, or ctx expires. It returns the number
// of attempts made (at least 1) and the final error. No retry is started
// after the deadline has elapsed.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Second
	}
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxInterval = cfg.MaxInterval
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = 30 * time.Second
	}
	bo.MaxElapsedTime = 0
	bo.Reset()
	policy := backoff.WithContext(bo, ctx)

	attempts := 0
	for {
		attempts++
		err := op()
		if err == nil {
			return attempts, nil
		}

		if !apperrors.IsRetryable(err) {
			return attempts, err
		}
		if attempts > cfg.MaxRetries {
			return attempts, err
		}
		if cfg.Budget != nil && !cfg.Budget.Allow() {
			return attempts, err
		}

		next := policy.NextBackOff()
		if next == backoff.Stop {
			return attempts, err
		}

		select {
		case <-time.After(next):
		case <-ctx.Done():
			return attempts, apperrors.Wrap(apperrors.CodeDeadlineExceeded, "retry aborted by deadline", ctx.Err())
		}
	}
}
