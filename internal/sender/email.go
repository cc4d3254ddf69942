package sender

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/internal/quota"
	"github.com/heraldhq/herald/internal/resilience"
	"github.com/heraldhq/herald/internal/telemetry"
)

// Mail is the uniform request every email provider accepts.
type Mail struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailProvider is one upstream email API speaking the uniform contract.
type EmailProvider interface {
	Name() string
	Send(ctx context.Context, m *Mail) (messageID string, err error)
}

// EmailStore is the slice of the repository the email sender needs:
// suppression lookups before selection and health counters after every
// provider round trip.
type EmailStore interface {
	GetSuppression(ctx context.Context, email string) (*notification.Suppression, error)
	RecordProviderResult(ctx context.Context, provider string, success bool, latencyMs int64, lastError string) error
	ListProviderHealth(ctx context.Context) ([]*notification.ProviderHealth, error)
}

// Preference orders per mail class. Scores reorder these; the constants
// only break ties between equally healthy providers.
var (
	transactionalOrder = []string{"postmark", "resend", "ses", "sendgrid"}
	marketingOrder     = []string{"sendgrid", "ses", "resend", "postmark"}
)

// EmailSender selects among the configured email providers by health score,
// quota headroom, and mail class, failing over on retryable errors. A
// suppressed recipient blocks the send before any provider is consulted.
type EmailSender struct {
	providers map[string]EmailProvider
	store     EmailStore
	circuits  *resilience.CircuitManager
	quota     *quota.Manager
	retry     resilience.RetryConfig
	logger    *telemetry.ContextualLogger
}

// NewEmailSender wires the configured providers.
func NewEmailSender(providers []EmailProvider, store EmailStore, circuits *resilience.CircuitManager, quotas *quota.Manager, retry resilience.RetryConfig, logger *telemetry.ContextualLogger) *EmailSender {
	byName := make(map[string]EmailProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &EmailSender{
		providers: byName,
		store:     store,
		circuits:  circuits,
		quota:     quotas,
		retry:     retry,
		logger:    logger,
	}
}

func (s *EmailSender) Channel() notification.Channel { return notification.ChannelEmail }

// Send picks a provider and delivers, failing over while errors stay
// retryable. Non-retryable recipient rejections stop the failover: an
// address every provider will bounce is not worth four bounces.
func (s *EmailSender) Send(ctx context.Context, n *notification.Notification, target notification.Target) notification.DeliveryOutcome {
	start := time.Now()

	if target.Email == "" {
		return notification.Failed("email", "no_targets", "no recipient address", false)
	}
	address := strings.ToLower(target.Email)

	if sup := s.suppressionFor(ctx, address); sup != nil {
		return notification.Blocked(valueOr(sup.Provider, "email"), "suppressed_address",
			fmt.Sprintf("recipient suppressed (%s)", sup.Reason), false)
	}

	mail := &Mail{
		To:      address,
		Subject: n.Title,
		Text:    n.Body,
		HTML:    n.Data["html"],
	}

	candidates := s.eligible(ctx, n)
	if len(candidates) == 0 {
		return notification.Blocked("email", "circuit_open",
			"no email provider is currently eligible", true)
	}

	var (
		attempts int
		lastErr  error
		failures []string
	)

	for _, name := range candidates {
		provider := s.providers[name]

		var msgID string
		callStart := time.Now()
		tries, err := sendThrough(ctx, s.circuits, name, s.retry, func() error {
			id, sendErr := provider.Send(ctx, mail)
			if sendErr != nil {
				return sendErr
			}
			msgID = id
			return nil
		})
		attempts += tries
		s.recordResult(ctx, name, err, callStart)

		if err == nil {
			s.quota.Record(ctx, name, 1)
			out := notification.Delivered(name, msgID, latencyMs(start))
			out.Attempts = attempts
			return out
		}

		lastErr = err
		failures = append(failures, fmt.Sprintf("%s: %s", name, err.Error()))

		code := apperrors.CodeOf(err)
		if code == apperrors.CodeQuotaExhausted {
			// The provider's own verdict is authoritative.
			s.quota.MarkExhausted(name)
		}

		// Recipient-level rejections would repeat on every provider.
		if !apperrors.IsRetryable(err) && code != apperrors.CodeUnauthenticated && code != apperrors.CodeQuotaExhausted {
			break
		}

		s.log(ctx).WithError(err).WithField("provider", name).Warn("Email provider failed, trying next")
	}

	message := strings.Join(failures, "; ")
	if apperrors.CodeOf(lastErr) == apperrors.CodeCircuitOpen {
		return notification.Blocked("email", "circuit_open", message, true)
	}

	out := notification.Failed("email", resultCode(lastErr), message, apperrors.IsRetryable(lastErr))
	out.Attempts = attempts
	out.LatencyMs = latencyMs(start)
	return out
}

// eligible orders the configured providers for this notification: the mail
// class sets the base order, health scores promote, open circuits and
// exhausted quotas drop out.
func (s *EmailSender) eligible(ctx context.Context, n *notification.Notification) []string {
	order := transactionalOrder
	if n.Category() == notification.CategoryMarketing {
		order = marketingOrder
	}

	scores := s.healthScores(ctx)

	var names []string
	for _, name := range order {
		if _, ok := s.providers[name]; !ok {
			continue
		}
		if !s.circuits.Allow(name) {
			continue
		}
		if err := s.quota.Allow(ctx, name, 1); err != nil {
			s.log(ctx).WithField("provider", name).Debug("Skipping quota-exhausted email provider")
			continue
		}
		names = append(names, name)
	}

	// Stable: preference order breaks score ties.
	sort.SliceStable(names, func(i, j int) bool {
		return scores[names[i]] > scores[names[j]]
	})
	return names
}

func (s *EmailSender) healthScores(ctx context.Context) map[string]float64 {
	scores := make(map[string]float64, len(s.providers))
	for name := range s.providers {
		scores[name] = 1.0
	}

	rows, err := s.store.ListProviderHealth(ctx)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Failed to load provider health, using defaults")
		return scores
	}
	for _, row := range rows {
		if _, ok := scores[row.Provider]; ok {
			scores[row.Provider] = row.Score()
		}
	}
	return scores
}

// suppressionFor checks the hard suppression list. Lookup failures let the
// send proceed; blocking delivery on a store hiccup would be worse than a
// rare mail to a bounced address.
func (s *EmailSender) suppressionFor(ctx context.Context, address string) *notification.Suppression {
	sup, err := s.store.GetSuppression(ctx, address)
	if err != nil {
		if !errors.Is(err, notification.ErrNotFound) {
			s.log(ctx).WithError(err).Warn("Suppression lookup failed, proceeding")
		}
		return nil
	}
	return sup
}

func (s *EmailSender) recordResult(ctx context.Context, name string, sendErr error, callStart time.Time) {
	lastError := ""
	if sendErr != nil {
		lastError = sendErr.Error()
	}
	if err := s.store.RecordProviderResult(ctx, name, sendErr == nil, latencyMs(callStart), lastError); err != nil {
		s.log(ctx).WithError(err).WithField("provider", name).Warn("Failed to record provider result")
	}
}

// Health reports per-provider circuit and quota state.
func (s *EmailSender) Health(ctx context.Context) notification.HealthStatus {
	if len(s.providers) == 0 {
		return notification.HealthStatus{Status: "unhealthy", Message: "no email providers configured"}
	}

	var down []string
	for name := range s.providers {
		if !s.circuits.Allow(name) {
			down = append(down, name+" (circuit open)")
		} else if s.quota.IsExhausted(name) {
			down = append(down, name+" (quota)")
		}
	}
	sort.Strings(down)

	switch {
	case len(down) == 0:
		return notification.HealthStatus{Status: "healthy"}
	case len(down) < len(s.providers):
		return notification.HealthStatus{Status: "degraded", Message: strings.Join(down, ", ")}
	default:
		return notification.HealthStatus{Status: "unhealthy", Message: strings.Join(down, ", ")}
	}
}

func (s *EmailSender) log(ctx context.Context) *telemetry.ContextualLogger {
	if s.logger != nil {
		return s.logger
	}
	return telemetry.LogFromContext(ctx)
}

func valueOr(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}
