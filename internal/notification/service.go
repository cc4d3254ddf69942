package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// Preferences returns the user's preference document, materializing the
// defaults on first read.
func (o *Orchestrator) Preferences(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	prefs, err := o.repo.GetPreferences(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("failed to load preferences", err)
	}
	return prefs, nil
}

// UpdatePreferences applies a partial update. Omitted fields keep their
// stored values; category leaves merge rather than replace.
func (o *Orchestrator) UpdatePreferences(ctx context.Context, userID uuid.UUID, patch *PreferencesPatch) (*Preferences, error) {
	if err := ValidatePreferencesPatch(patch); err != nil {
		return nil, err
	}

	current, err := o.repo.GetPreferences(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("failed to load preferences", err)
	}

	updated, err := o.repo.UpdatePreferences(ctx, ApplyPatch(current, patch))
	if err != nil {
		return nil, apperrors.Internal("failed to update preferences", err)
	}

	o.log(ctx).WithField("user_id", userID).Debug("preferences updated")
	return updated, nil
}

// SetDnd enables do-not-disturb until the given time. A nil until clears
// it immediately.
func (o *Orchestrator) SetDnd(ctx context.Context, userID uuid.UUID, until *time.Time) (*Preferences, error) {
	enabled := until != nil
	if enabled && !until.After(o.now()) {
		return nil, apperrors.Validation("dnd until must be in the future")
	}

	return o.UpdatePreferences(ctx, userID, &PreferencesPatch{
		Dnd: &DndPatch{Enabled: &enabled, Until: until},
	})
}

// RegisterDevice stores or reactivates a push token for the user.
func (o *Orchestrator) RegisterDevice(ctx context.Context, token *DeviceToken) (*DeviceToken, error) {
	if token.UserID == uuid.Nil {
		return nil, apperrors.Validation("userId is required")
	}
	if token.Token == "" {
		return nil, apperrors.Validation("token is required")
	}
	if !token.Platform.Valid() {
		return nil, apperrors.Validationf("invalid platform '%s'", token.Platform)
	}
	if token.Platform == PlatformWeb && (token.P256dh == nil || token.Auth == nil) {
		return nil, apperrors.Validation("web push tokens require p256dh and auth keys")
	}

	registered, err := o.repo.RegisterDeviceToken(ctx, token)
	if err != nil {
		return nil, apperrors.Internal("failed to register device token", err)
	}
	return registered, nil
}

// RemoveDevice deactivates a push token, typically on logout.
func (o *Orchestrator) RemoveDevice(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.Validation("token is required")
	}
	if err := o.repo.DeactivateToken(ctx, token); err != nil {
		return apperrors.Internal("failed to deactivate device token", err)
	}
	return nil
}

// Inbox lists the user's in-app notifications, newest first.
func (o *Orchestrator) Inbox(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*InAppNotification, error) {
	items, err := o.repo.ListInApp(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to list inbox", err)
	}
	return items, nil
}

// MarkRead marks the given in-app notifications read; with no ids it
// marks everything unread.
func (o *Orchestrator) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	updated, err := o.repo.MarkInAppRead(ctx, userID, ids)
	if err != nil {
		return 0, apperrors.Internal("failed to mark inbox read", err)
	}
	return updated, nil
}

// WebhookReport summarizes one provider callback batch.
type WebhookReport struct {
	Received   int `json:"received"`
	Updated    int `json:"updated"`
	Suppressed int `json:"suppressed"`
	Ignored    int `json:"ignored"`
}

// HandleWebhookEvents applies normalized provider callbacks: delivery
// confirmations and failures update the audit trail by provider message
// id, and hard bounces or complaints suppress the address.
func (o *Orchestrator) HandleWebhookEvents(ctx context.Context, provider string, events []WebhookEvent) (*WebhookReport, error) {
	report := &WebhookReport{Received: len(events)}

	for _, ev := range events {
		status, errorCode, suppress := classifyWebhookEvent(ev)
		if status == "" {
			report.Ignored++
			continue
		}

		if ev.MessageID != "" {
			var codePtr *string
			if errorCode != "" {
				codePtr = &errorCode
			}
			updated, err := o.repo.UpdateDeliveryByMessageID(ctx, provider, ev.MessageID, status, codePtr)
			if err != nil {
				o.log(ctx).WithError(err).WithFields(logrus.Fields{
					"provider":   provider,
					"message_id": ev.MessageID,
				}).Warn("failed to apply webhook delivery update")
			} else if updated > 0 {
				report.Updated += int(updated)
			} else {
				// Automation mail and foreign messages have no
				// delivery rows; nothing to update.
				report.Ignored++
			}
		}

		if suppress && ev.Email != "" {
			s := &Suppression{
				Email:    strings.ToLower(ev.Email),
				Reason:   errorCode,
				Provider: Ptr(provider),
			}
			if err := o.repo.UpsertSuppression(ctx, s); err != nil {
				o.log(ctx).WithError(err).WithField("provider", provider).Warn("failed to suppress address")
			} else {
				report.Suppressed++
			}
		}
	}

	return report, nil
}

// classifyWebhookEvent maps a normalized provider event onto the delivery
// taxonomy. Unknown event types are ignored, never guessed.
func classifyWebhookEvent(ev WebhookEvent) (DeliveryStatus, string, bool) {
	switch strings.ToLower(ev.EventType) {
	case "delivered", "delivery":
		return StatusDelivered, "", false
	case "bounce", "bounced", "hard_bounce", "permanent_failure":
		return StatusFailed, "bounced", true
	case "complaint", "spam_complaint", "spamreport":
		return StatusFailed, "complained", true
	case "dropped", "failed":
		return StatusFailed, "provider_dropped", false
	default:
		return "", "", false
	}
}

// SuppressionFor looks up the suppression entry for an address, nil when
// the address is clear.
func (o *Orchestrator) SuppressionFor(ctx context.Context, email string) (*Suppression, error) {
	s, err := o.repo.GetSuppression(ctx, strings.ToLower(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Internal("failed to check suppression", err)
	}
	return s, nil
}

// ProviderHealth lists rolling provider success metrics.
func (o *Orchestrator) ProviderHealth(ctx context.Context) ([]*ProviderHealth, error) {
	health, err := o.repo.ListProviderHealth(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to list provider health", err)
	}
	return health, nil
}
