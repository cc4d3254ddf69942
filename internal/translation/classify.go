package translation

import (
	"fmt"
	"strings"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// classifyStatus folds a non-2xx translation API status into the error
// taxonomy. 429 and 5xx are retryable on the same tier; auth failures and
// the remaining 4xx make the engine move to the next tier immediately.
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
func classifyNetworkError(provider string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return apperrors.Wrap(apperrors.CodeTimeout, provider+" request timed out", err)
	}
	return apperrors.Wrap(apperrors.CodeServiceUnavail, provider+" request failed", err)
}
