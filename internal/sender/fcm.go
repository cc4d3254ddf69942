package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/notification"
)

const (
	fcmBaseURL  = "https://fcm.googleapis.com"
	fcmTokenURL = "https://oauth2.googleapis.com/token"
	fcmScope    = "https://www.googleapis.com/auth/firebase.messaging"
)

// FCMClient delivers to Android device tokens via the FCM HTTP v1 API,
// exchanging the service-account key for short-lived OAuth tokens.
type FCMClient struct {
	projectID  string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	baseURL    string
}

// NewFCMClient prepares the client. baseURL and tokenURL override the Google
// endpoints for tests.
func NewFCMClient(cfg config.FCMConfig, baseURL, tokenURL string) (*FCMClient, error) {
	if baseURL == "" {
		baseURL = fcmBaseURL
	}
	if tokenURL == "" {
		tokenURL = fcmTokenURL
	}

	oauthCfg := &jwt.Config{
		Email:      cfg.ClientEmail,
		PrivateKey: []byte(cfg.PrivateKey),
		Scopes:     []string{fcmScope},
		TokenURL:   tokenURL,
	}

	// TokenSource caches the exchanged token and refreshes it shortly
	// before expiry.
	return &FCMClient{
		projectID:  cfg.ProjectID,
		tokens:     oauthCfg.TokenSource(context.Background()),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}, nil
}

// Name returns the provider name used for circuits and logging.
func (c *FCMClient) Name() string { return "fcm" }

// Send pushes the notification to one device token. It returns the message
// name assigned by FCM.
func (c *FCMClient) Send(ctx context.Context, n *notification.Notification, token *notification.DeviceToken) (string, error) {
	access, err := c.tokens.Token()
	if err != nil {
		return "", classifyNetworkError("fcm", err)
	}

	body, err := json.Marshal(map[string]interface{}{"message": fcmMessage(n, token.Token)})
	if err != nil {
		return "", classifyNetworkError("fcm", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", c.baseURL, c.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", classifyNetworkError("fcm", err)
	}
	req.Header.Set("Authorization", "Bearer "+access.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyNetworkError("fcm", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyNetworkError("fcm", err)
	}

	if resp.StatusCode == http.StatusOK {
		var ok struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(respBody, &ok)
		return ok.Name, nil
	}

	code, status := parseFCMError(respBody)
	switch {
	case code == "UNREGISTERED", code == "INVALID_ARGUMENT", status == "NOT_FOUND":
		reason := code
		if reason == "" {
			reason = status
		}
		return "", deadToken("fcm", reason)
	default:
		return "", classifyStatus("fcm", resp.StatusCode, status)
	}
}

// parseFCMError extracts the FCM error code from the structured details and
// the google.rpc status string.
func parseFCMError(body []byte) (errorCode, status string) {
	var parsed struct {
		Error struct {
			Status  string `json:"status"`
			Details []struct {
				Type      string `json:"@type"`
				ErrorCode string `json:"errorCode"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", ""
	}
	for _, d := range parsed.Error.Details {
		if d.ErrorCode != "" {
			return d.ErrorCode, parsed.Error.Status
		}
	}
	return "", parsed.Error.Status
}

func fcmMessage(n *notification.Notification, token string) map[string]interface{} {
	note := map[string]string{
		"title": n.Title,
		"body":  n.Body,
	}
	if n.ImageURL != "" {
		note["image"] = n.ImageURL
	}

	androidNote := map[string]interface{}{
		"channel_id": fcmChannelID(n),
	}
	if n.Sound != "" {
		androidNote["sound"] = n.Sound
	}

	android := map[string]interface{}{
		"priority":     fcmPriority(n.EffectivePriority()),
		"notification": androidNote,
	}
	if n.TTLSeconds != nil {
		android["ttl"] = fmt.Sprintf("%ds", *n.TTLSeconds)
	}
	if n.CollapseKey != "" {
		android["collapse_key"] = n.CollapseKey
	}

	msg := map[string]interface{}{
		"token":        token,
		"notification": note,
		"android":      android,
	}
	if len(n.Data) > 0 {
		msg["data"] = n.Data
	}
	return msg
}

// fcmChannelID picks the Android notification channel: the explicit
// category id when set, otherwise the preference category.
func fcmChannelID(n *notification.Notification) string {
	if n.CategoryID != "" {
		return n.CategoryID
	}
	return string(n.Category())
}

func fcmPriority(p notification.Priority) string {
	if p == notification.PriorityCritical || p == notification.PriorityHigh {
		return "HIGH"
	}
	return "NORMAL"
}
