package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heraldhq/herald/internal/config"
	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/middleware"
	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/internal/telemetry"
)

// WebhookService folds provider delivery events back into delivery records
// and the suppression list.
type WebhookService interface {
	HandleWebhookEvents(ctx context.Context, provider string, events []notification.WebhookEvent) (*notification.WebhookReport, error)
}

const (
	maxWebhookBody = 1 << 20 // 1 MiB

	signatureHeader = "X-Webhook-Signature"
)

var webhookParsers = map[string]func([]byte) ([]notification.WebhookEvent, error){
	"resend":   parseResendEvents,
	"sendgrid": parseSendGridEvents,
	"postmark": parsePostmarkEvents,
	"ses":      parseSESEvents,
}

// handleWebhook ingests provider delivery callbacks. The body is verified
// against the per-provider shared secret before anything is parsed. Once an
// event batch is accepted the response is always 2xx, otherwise providers
// retry events we already applied.
func (s *Server) handleWebhook(c *gin.Context) {
	provider := strings.ToLower(c.Param("provider"))
	parse, known := webhookParsers[provider]
	if !known {
		middleware.AbortWithError(c, apperrors.New(apperrors.CodeNotFound, "unknown webhook provider"))
		return
	}

	secret := config.WebhookSecret(provider)
	if secret == "" {
		// Misconfiguration, not a bad request. Providers back off and
		// retry on 5xx, so no events are lost while ops fixes the env.
		middleware.AbortWithError(c, apperrors.New(apperrors.CodeServiceUnavail, "webhook secret not configured"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		middleware.AbortWithError(c, apperrors.Validation("failed to read request body"))
		return
	}
	if len(body) > maxWebhookBody {
		middleware.AbortWithError(c, apperrors.Validation("request body too large"))
		return
	}

	if !validSignature(secret, body, c.GetHeader(signatureHeader)) {
		middleware.AbortWithError(c, apperrors.Unauthenticated("invalid webhook signature"))
		return
	}

	events, err := parse(body)
	if err != nil {
		middleware.AbortWithError(c, apperrors.Validation(fmt.Sprintf("unparseable %s payload", provider)))
		return
	}

	report, err := s.webhooks.HandleWebhookEvents(c.Request.Context(), provider, events)
	if err != nil {
		// Accepted but not fully applied. Acknowledge anyway; the
		// delivery rows reconcile on the next replay pass.
		s.logger.WithContext(c.Request.Context()).WithError(err).
			WithField("provider", provider).Warn("webhook batch partially applied")
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
		return
	}
	c.JSON(http.StatusOK, report)
}

// validSignature checks an HMAC-SHA256 hex digest of the raw body. The
// header value may carry a "sha256=" scheme prefix.
func validSignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil || len(got) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignWebhookBody produces the digest validSignature expects. Exported for
// the worker-side client and tests.
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseResendEvents handles Resend's single-event payloads:
// {"type":"email.bounced","created_at":...,"data":{"email_id":...,"to":[...]}}
func parseResendEvents(body []byte) ([]notification.WebhookEvent, error) {
	var payload struct {
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
		Data      struct {
			EmailID string   `json:"email_id"`
			To      []string `json:"to"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Type == "" {
		return nil, fmt.Errorf("resend payload has no type")
	}

	event := notification.WebhookEvent{
		Provider:  "resend",
		EventType: strings.TrimPrefix(payload.Type, "email."),
		MessageID: payload.Data.EmailID,
		Timestamp: parseEventTime(payload.CreatedAt),
	}
	if len(payload.Data.To) > 0 {
		event.Email = payload.Data.To[0]
	}
	return []notification.WebhookEvent{event}, nil
}

// parseSendGridEvents handles SendGrid's array payloads. The sg_message_id
// carries a routing suffix after the first dot that the send API never
// returned, so it is stripped before matching.
func parseSendGridEvents(body []byte) ([]notification.WebhookEvent, error) {
	var payload []struct {
		Event       string `json:"event"`
		Email       string `json:"email"`
		SGMessageID string `json:"sg_message_id"`
		Timestamp   int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	events := make([]notification.WebhookEvent, 0, len(payload))
	for _, p := range payload {
		messageID, _, _ := strings.Cut(p.SGMessageID, ".")
		var ts time.Time
		if p.Timestamp > 0 {
			ts = time.Unix(p.Timestamp, 0).UTC()
		}
		events = append(events, notification.WebhookEvent{
			Provider:  "sendgrid",
			EventType: p.Event,
			MessageID: messageID,
			Email:     p.Email,
			Timestamp: ts,
		})
	}
	return events, nil
}

// parsePostmarkEvents handles Postmark's single-record payloads, keyed by
// RecordType. Only hard bounces suppress; soft bounces surface as plain
// failures so retries stay possible.
func parsePostmarkEvents(body []byte) ([]notification.WebhookEvent, error) {
	var payload struct {
		RecordType  string `json:"RecordType"`
		MessageID   string `json:"MessageID"`
		Type        string `json:"Type"`
		Email       string `json:"Email"`
		Recipient   string `json:"Recipient"`
		BouncedAt   string `json:"BouncedAt"`
		DeliveredAt string `json:"DeliveredAt"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var eventType string
	switch payload.RecordType {
	case "Delivery":
		eventType = "delivered"
	case "Bounce":
		if payload.Type == "HardBounce" {
			eventType = "hard_bounce"
		} else {
			eventType = "failed"
		}
	case "SpamComplaint":
		eventType = "complaint"
	default:
		return nil, fmt.Errorf("unsupported postmark record type %q", payload.RecordType)
	}

	email := payload.Email
	if email == "" {
		email = payload.Recipient
	}
	ts := parseEventTime(payload.BouncedAt)
	if ts.IsZero() {
		ts = parseEventTime(payload.DeliveredAt)
	}

	return []notification.WebhookEvent{{
		Provider:  "postmark",
		EventType: eventType,
		MessageID: payload.MessageID,
		Email:     email,
		Timestamp: ts,
	}}, nil
}

// parseSESEvents handles SES notifications, either raw or wrapped in an SNS
// envelope. SNS subscription handshakes yield no events; the confirmation
// URL is applied out of band.
func parseSESEvents(body []byte) ([]notification.WebhookEvent, error) {
	var envelope struct {
		Type         string `json:"Type"`
		Message      string `json:"Message"`
		SubscribeURL string `json:"SubscribeURL"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch envelope.Type {
		case "SubscriptionConfirmation", "UnsubscribeConfirmation":
			telemetry.GetGlobalLogger().WithField("subscribe_url", envelope.SubscribeURL).
				Info("SNS subscription handshake received")
			return nil, nil
		case "Notification":
			body = []byte(envelope.Message)
		}
	}

	var payload struct {
		NotificationType string `json:"notificationType"`
		Mail             struct {
			MessageID string `json:"messageId"`
			Timestamp string `json:"timestamp"`
		} `json:"mail"`
		Bounce struct {
			BounceType        string `json:"bounceType"`
			BouncedRecipients []struct {
				EmailAddress string `json:"emailAddress"`
			} `json:"bouncedRecipients"`
		} `json:"bounce"`
		Complaint struct {
			ComplainedRecipients []struct {
				EmailAddress string `json:"emailAddress"`
			} `json:"complainedRecipients"`
		} `json:"complaint"`
		Delivery struct {
			Recipients []string `json:"recipients"`
		} `json:"delivery"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	ts := parseEventTime(payload.Mail.Timestamp)
	base := notification.WebhookEvent{
		Provider:  "ses",
		MessageID: payload.Mail.MessageID,
		Timestamp: ts,
	}

	var events []notification.WebhookEvent
	switch payload.NotificationType {
	case "Bounce":
		eventType := "failed"
		if payload.Bounce.BounceType == "Permanent" {
			eventType = "permanent_failure"
		}
		for _, r := range payload.Bounce.BouncedRecipients {
			e := base
			e.EventType = eventType
			e.Email = r.EmailAddress
			events = append(events, e)
		}
	case "Complaint":
		for _, r := range payload.Complaint.ComplainedRecipients {
			e := base
			e.EventType = "complaint"
			e.Email = r.EmailAddress
			events = append(events, e)
		}
	case "Delivery":
		for _, addr := range payload.Delivery.Recipients {
			e := base
			e.EventType = "delivered"
			e.Email = addr
			events = append(events, e)
		}
	default:
		return nil, fmt.Errorf("unsupported ses notification type %q", payload.NotificationType)
	}
	return events, nil
}

func parseEventTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC()
	}
	return time.Time{}
}
