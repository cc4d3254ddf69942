package sender

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/notification"
)

const (
	apnsProduction = "https://api.push.apple.com"
	apnsSandbox    = "https://api.sandbox.push.apple.com"

	// Apple accepts provider tokens up to an hour old; refreshing at 50
	// minutes keeps a safety margin.
	apnsTokenLifetime = 50 * time.Minute
)

// APNSClient delivers to iOS device tokens over the APNs HTTP/2 API,
// authenticating with an ES256 provider token.
type APNSClient struct {
	keyID    string
	teamID   string
	bundleID string
	key      *ecdsa.PrivateKey

	httpClient *http.Client
	baseURL    string

	mu          sync.Mutex
	bearer      string
	bearerUntil time.Time
}

// NewAPNSClient parses the signing key and prepares the client. BaseURL
// overrides the Apple endpoint for tests.
func NewAPNSClient(cfg config.APNSConfig, baseURL string) (*APNSClient, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs signing key %s: %w", maskSecret(cfg.KeyID), err)
	}

	if baseURL == "" {
		baseURL = apnsProduction
		if cfg.Environment == "sandbox" {
			baseURL = apnsSandbox
		}
	}

	return &APNSClient{
		keyID:      cfg.KeyID,
		teamID:     cfg.TeamID,
		bundleID:   cfg.BundleID,
		key:        key,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name returns the provider name used for circuits and logging.
func (c *APNSClient) Name() string { return "apns" }

// Send pushes the notification to one device token. It returns the apns-id
// assigned by Apple.
func (c *APNSClient) Send(ctx context.Context, n *notification.Notification, token *notification.DeviceToken) (string, error) {
	bearer, err := c.providerToken(time.Now())
	if err != nil {
		return "", classifyNetworkError("apns", err)
	}

	body, err := json.Marshal(apnsPayload(n))
	if err != nil {
		return "", classifyNetworkError("apns", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", c.baseURL, token.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", classifyNetworkError("apns", err)
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", c.bundleID)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", apnsPriority(n.EffectivePriority()))
	if n.TTLSeconds != nil {
		expiry := time.Now().Add(time.Duration(*n.TTLSeconds) * time.Second).Unix()
		req.Header.Set("apns-expiration", fmt.Sprintf("%d", expiry))
	}
	if n.CollapseKey != "" {
		req.Header.Set("apns-collapse-id", n.CollapseKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyNetworkError("apns", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		return resp.Header.Get("apns-id"), nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(respBody, &apiErr)

	switch {
	case resp.StatusCode == http.StatusGone:
		return "", deadToken("apns", "gone")
	case apiErr.Reason == "BadDeviceToken",
		apiErr.Reason == "Unregistered",
		apiErr.Reason == "DeviceTokenNotForTopic":
		return "", deadToken("apns", apiErr.Reason)
	default:
		return "", classifyStatus("apns", resp.StatusCode, apiErr.Reason)
	}
}

// providerToken returns the cached ES256 bearer, re-signing when it is
// older than 50 minutes.
func (c *APNSClient) providerToken(now time.Time) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearer != "" && now.Before(c.bearerUntil) {
		return c.bearer, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = c.keyID

	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign APNs provider token: %w", err)
	}

	c.bearer = signed
	c.bearerUntil = now.Add(apnsTokenLifetime)
	return signed, nil
}

func apnsPayload(n *notification.Notification) map[string]interface{} {
	alert := map[string]string{
		"title": n.Title,
		"body":  n.Body,
	}

	sound := n.Sound
	if sound == "" {
		sound = "default"
	}

	aps := map[string]interface{}{
		"alert": alert,
		"sound": sound,
	}
	if n.Badge != nil {
		aps["badge"] = *n.Badge
	}
	if n.ThreadID != "" {
		aps["thread-id"] = n.ThreadID
	}
	if n.CategoryID != "" {
		aps["category"] = n.CategoryID
	}

	switch n.EffectivePriority() {
	case notification.PriorityCritical:
		aps["interruption-level"] = "time-sensitive"
		aps["relevance-score"] = 1.0
	case notification.PriorityHigh:
		aps["interruption-level"] = "time-sensitive"
		aps["relevance-score"] = 0.75
	case notification.PriorityLow:
		aps["interruption-level"] = "passive"
	default:
		aps["interruption-level"] = "active"
	}

	payload := map[string]interface{}{"aps": aps}
	for k, v := range n.Data {
		if k == "aps" {
			continue
		}
		payload[k] = v
	}
	return payload
}

// apnsPriority maps delivery priority onto the apns-priority header:
// immediate for high and critical, power-friendly for the rest.
func apnsPriority(p notification.Priority) string {
	if p == notification.PriorityCritical || p == notification.PriorityHigh {
		return "10"
	}
	return "5"
}
