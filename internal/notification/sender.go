package notification

import (
	"context"

	"github.com/google/uuid"
)

// Target carries the resolved delivery endpoints for one channel. The
// orchestrator resolves targets; senders only talk to their provider.
type Target struct {
	Tokens []*DeviceToken // push
	Email  string         // email
	Phone  string         // sms
	UserID uuid.UUID      // in_app
	Locale string
}

// DeliveryOutcome is the structured result returned by senders. Provider
// failures are folded into the outcome rather than returned as Go errors,
// so a failed send never aborts the sibling channels.
type DeliveryOutcome struct {
	Status       DeliveryStatus
	Provider     string
	MessageID    string
	ErrorCode    string
	ErrorMessage string
	Retryable    bool
	Attempts     int
	LatencyMs    int64

	// Push bookkeeping: how many targets accepted the message, which
	// tokens succeeded (for last_used_at refresh), and which tokens the
	// provider declared dead (for deactivation).
	Delivered       int
	DeliveredTokens []string
	InvalidTokens   []string
}

// Delivered builds a success outcome.
func Delivered(provider, messageID string, latencyMs int64) DeliveryOutcome {
	return DeliveryOutcome{
		Status:    StatusDelivered,
		Provider:  provider,
		MessageID: messageID,
		LatencyMs: latencyMs,
		Delivered: 1,
	}
}

// Failed builds a failure outcome.
func Failed(provider, errorCode, message string, retryable bool) DeliveryOutcome {
	return DeliveryOutcome{
		Status:       StatusFailed,
		Provider:     provider,
		ErrorCode:    errorCode,
		ErrorMessage: message,
		Retryable:    retryable,
	}
}

// Blocked builds an intentionally-not-sent outcome (circuit open,
// suppressed address).
func Blocked(provider, errorCode, message string, retryable bool) DeliveryOutcome {
	return DeliveryOutcome{
		Status:       StatusBlocked,
		Provider:     provider,
		ErrorCode:    errorCode,
		ErrorMessage: message,
		Retryable:    retryable,
	}
}

// HealthStatus is a sender's self-reported health.
type HealthStatus struct {
	Status    string `json:"status"` // healthy | degraded | unhealthy
	LatencyMs int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

// Sender is the delivery boundary for one channel. Implementations own
// provider selection, circuits, retries, and quota accounting; the
// orchestrator owns targets, preference gates, and the audit trail.
type Sender interface {
	// Send delivers a notification to the resolved target and returns the
	// structured outcome.
	Send(ctx context.Context, n *Notification, target Target) DeliveryOutcome

	// Channel returns the channel this sender handles.
	Channel() Channel

	// Health reports the sender's current ability to deliver.
	Health(ctx context.Context) HealthStatus
}
