package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/notification"
)

// WebPushClient delivers to browser push subscriptions with VAPID-signed,
// encrypted payloads. The subscription endpoint is stored as the device
// token; the p256dh/auth keys ride on the token row.
type WebPushClient struct {
	publicKey  string
	privateKey string
	subscriber string
	httpClient *http.Client
}

// NewWebPushClient prepares the client from the VAPID key pair.
func NewWebPushClient(cfg config.VAPIDConfig) *WebPushClient {
	return &WebPushClient{
		publicKey:  cfg.PublicKey,
		privateKey: cfg.PrivateKey,
		subscriber: cfg.Subject,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the provider name used for circuits and logging.
func (c *WebPushClient) Name() string { return "webpush" }

// Send encrypts and pushes the notification to one subscription.
func (c *WebPushClient) Send(ctx context.Context, n *notification.Notification, token *notification.DeviceToken) (string, error) {
	if token.P256dh == nil || token.Auth == nil {
		return "", deadToken("webpush", "subscription has no encryption keys")
	}

	payload, err := json.Marshal(webPushPayload(n))
	if err != nil {
		return "", classifyNetworkError("webpush", err)
	}

	sub := &webpush.Subscription{
		Endpoint: token.Token,
		Keys: webpush.Keys{
			P256dh: *token.P256dh,
			Auth:   *token.Auth,
		},
	}

	ttl := 86400
	if n.TTLSeconds != nil {
		ttl = *n.TTLSeconds
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      c.httpClient,
		Subscriber:      c.subscriber,
		VAPIDPublicKey:  c.publicKey,
		VAPIDPrivateKey: c.privateKey,
		TTL:             ttl,
		Urgency:         webPushUrgency(n.EffectivePriority()),
		Topic:           n.CollapseKey,
	})
	if err != nil {
		return "", classifyNetworkError("webpush", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Header.Get("Location"), nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return "", deadToken("webpush", "subscription gone")
	default:
		return "", classifyStatus("webpush", resp.StatusCode, "")
	}
}

// webPushPayload is what the service worker receives and renders.
func webPushPayload(n *notification.Notification) map[string]interface{} {
	payload := map[string]interface{}{
		"title": n.Title,
		"body":  n.Body,
		"type":  string(n.Type),
	}
	if n.ImageURL != "" {
		payload["icon"] = n.ImageURL
	}
	if n.CollapseKey != "" {
		payload["tag"] = n.CollapseKey
	}
	if len(n.Data) > 0 {
		payload["data"] = n.Data
	}
	return payload
}

func webPushUrgency(p notification.Priority) webpush.Urgency {
	switch p {
	case notification.PriorityCritical, notification.PriorityHigh:
		return webpush.UrgencyHigh
	case notification.PriorityLow:
		return webpush.UrgencyLow
	default:
		return webpush.UrgencyNormal
	}
}
