package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/internal/resilience"
	"github.com/heraldhq/herald/internal/telemetry"
)

// PlatformClient delivers one notification to one device token and returns
// the provider-assigned message id. Dead tokens are reported via ErrTokenGone
// so the caller can forward them for deactivation.
type PlatformClient interface {
	Name() string
	Send(ctx context.Context, n *notification.Notification, token *notification.DeviceToken) (string, error)
}

// PushSender fans a notification out to every resolved device token,
// routing each token to its platform client (APNs, FCM, WebPush). Tokens
// are independent: one dead token never fails the siblings.
type PushSender struct {
	clients  map[notification.Platform]PlatformClient
	circuits *resilience.CircuitManager
	retry    resilience.RetryConfig
	logger   *telemetry.ContextualLogger
}

// NewPushSender wires the configured platform clients. A nil client leaves
// its platform unconfigured; sends to it fail without a network call.
func NewPushSender(apns, fcm, webPush PlatformClient, circuits *resilience.CircuitManager, retry resilience.RetryConfig, logger *telemetry.ContextualLogger) *PushSender {
	clients := make(map[notification.Platform]PlatformClient, 3)
	if apns != nil {
		clients[notification.PlatformIOS] = apns
	}
	if fcm != nil {
		clients[notification.PlatformAndroid] = fcm
	}
	if webPush != nil {
		clients[notification.PlatformWeb] = webPush
	}

	return &PushSender{
		clients:  clients,
		circuits: circuits,
		retry:    retry,
		logger:   logger,
	}
}

func (s *PushSender) Channel() notification.Channel { return notification.ChannelPush }

// Send delivers to every token and aggregates the per-token results into
// one channel outcome. The outcome is delivered when at least one token
// accepted the message.
func (s *PushSender) Send(ctx context.Context, n *notification.Notification, target notification.Target) notification.DeliveryOutcome {
	start := time.Now()

	if len(target.Tokens) == 0 {
		return notification.Failed("push", "no_targets", "no device tokens to deliver to", false)
	}

	var (
		delivered    []string
		invalid      []string
		messageID    string
		provider     string
		failProvider string
		attempts     int
		lastErr      error
		failures     []string
	)

	for _, token := range target.Tokens {
		client, ok := s.clients[token.Platform]
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: platform not configured", token.Platform))
			lastErr = apperrors.New(apperrors.CodeValidation, fmt.Sprintf("no %s push client configured", token.Platform))
			continue
		}

		var msgID string
		tries, err := sendThrough(ctx, s.circuits, client.Name(), s.retry, func() error {
			id, sendErr := client.Send(ctx, n, token)
			if sendErr != nil {
				return sendErr
			}
			msgID = id
			return nil
		})
		attempts += tries

		if err == nil {
			delivered = append(delivered, token.Token)
			if messageID == "" {
				messageID = msgID
				provider = client.Name()
			}
			continue
		}

		if errors.Is(err, ErrTokenGone) {
			invalid = append(invalid, token.Token)
			s.log(ctx).WithFields(logrus.Fields{
				"provider": client.Name(),
				"token":    maskSecret(token.Token),
			}).Info("Device token rejected by provider, queueing deactivation")
			continue
		}

		lastErr = err
		failProvider = client.Name()
		failures = append(failures, fmt.Sprintf("%s: %s", client.Name(), err.Error()))
	}

	outcome := notification.DeliveryOutcome{
		Provider:        provider,
		MessageID:       messageID,
		Attempts:        attempts,
		LatencyMs:       latencyMs(start),
		Delivered:       len(delivered),
		DeliveredTokens: delivered,
		InvalidTokens:   invalid,
	}

	switch {
	case len(delivered) > 0:
		outcome.Status = notification.StatusDelivered
	case lastErr != nil && apperrors.CodeOf(lastErr) == apperrors.CodeCircuitOpen:
		outcome.Status = notification.StatusBlocked
		outcome.Provider = providerOrPush(failProvider)
		outcome.ErrorCode = "circuit_open"
		outcome.ErrorMessage = lastErr.Error()
		outcome.Retryable = true
	case lastErr != nil:
		outcome.Status = notification.StatusFailed
		outcome.Provider = providerOrPush(failProvider)
		outcome.ErrorCode = resultCode(lastErr)
		outcome.ErrorMessage = strings.Join(failures, "; ")
		outcome.Retryable = apperrors.IsRetryable(lastErr)
	default:
		// Every token was declared dead. Not retryable: the orchestrator
		// deactivates them and the next send resolves fresh targets.
		outcome.Status = notification.StatusFailed
		outcome.Provider = "push"
		outcome.ErrorCode = "invalid_token"
		outcome.ErrorMessage = "all device tokens were rejected by their providers"
	}

	return outcome
}

// Health reports degraded as soon as any platform circuit is open, and
// unhealthy when every configured platform is open.
func (s *PushSender) Health(_ context.Context) notification.HealthStatus {
	if len(s.clients) == 0 {
		return notification.HealthStatus{Status: "unhealthy", Message: "no push platforms configured"}
	}

	var open []string
	for _, client := range s.clients {
		if s.circuits.State(client.Name()) == "open" {
			open = append(open, client.Name())
		}
	}

	switch {
	case len(open) == 0:
		return notification.HealthStatus{Status: "healthy"}
	case len(open) < len(s.clients):
		return notification.HealthStatus{
			Status:  "degraded",
			Message: fmt.Sprintf("circuit open: %s", strings.Join(open, ", ")),
		}
	default:
		return notification.HealthStatus{
			Status:  "unhealthy",
			Message: "all push provider circuits are open",
		}
	}
}

func (s *PushSender) log(ctx context.Context) *telemetry.ContextualLogger {
	if s.logger != nil {
		return s.logger
	}
	return telemetry.LogFromContext(ctx)
}

func providerOrPush(provider string) string {
	if provider == "" {
		return "push"
	}
	return provider
}
