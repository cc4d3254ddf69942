// Package monitoring aggregates component health for the health endpoints
// and pushes operational alerts to configured sinks.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heraldhq/herald/internal/telemetry"
)

// AlertLevel is the severity of an operational alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is one operational condition worth a human's attention. Alerts are
// deduplicated by Key: re-firing an active key bumps Count instead of
// creating a second entry.
type Alert struct {
	Key        string     `json:"key"`
	Level      AlertLevel `json:"level"`
	Source     string     `json:"source"`
	Message    string     `json:"message"`
	Count      int        `json:"count"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

type activeAlert struct {
	alert     Alert
	expiresAt time.Time // zero means active until resolved
}

// AlertManager tracks active alerts and fans notifications out to sinks.
// Notification is asynchronous; sink failures are logged and never block
// the code path that raised the alert.
type AlertManager struct {
	mu           sync.Mutex
	active       map[string]*activeAlert
	lastNotified map[string]time.Time
	sinks        []Sink

	renotifyAfter time.Duration
	sinkTimeout   time.Duration
	logger        *telemetry.ContextualLogger
	wg            sync.WaitGroup

	// now is injectable for expiry and cooldown tests.
	now func() time.Time
}

// NewAlertManager creates a manager with no sinks. Alerts fired before any
// sink is added still show up in Active.
func NewAlertManager(logger *telemetry.ContextualLogger) *AlertManager {
	return &AlertManager{
		active:        make(map[string]*activeAlert),
		lastNotified:  make(map[string]time.Time),
		renotifyAfter: 30 * time.Minute,
		sinkTimeout:   10 * time.Second,
		logger:        logger,
		now:           time.Now,
	}
}

// AddSink registers a delivery destination. Call during startup, before the
// manager sees traffic.
func (am *AlertManager) AddSink(s Sink) {
	am.sinks = append(am.sinks, s)
}

// Fire raises or refreshes the alert identified by alert.Key. A key that is
// already active is not re-sent to sinks until the renotify cooldown has
// passed; its count and message are updated either way.
func (am *AlertManager) Fire(alert Alert) {
	am.fireFor(alert, 0)
}

// fireFor is Fire with an optional auto-expiry for conditions that clear
// themselves without an explicit Resolve (quota sidelines).
func (am *AlertManager) fireFor(alert Alert, ttl time.Duration) {
	now := am.now()

	am.mu.Lock()
	existing, ok := am.active[alert.Key]
	if ok && !am.expired(existing, now) {
		existing.alert.Count++
		existing.alert.Message = alert.Message
		if ttl > 0 {
			existing.expiresAt = now.Add(ttl)
		}
		if now.Sub(am.lastNotified[alert.Key]) < am.renotifyAfter {
			am.mu.Unlock()
			return
		}
		alert = existing.alert
	} else {
		alert.Count = 1
		alert.FiredAt = now
		entry := &activeAlert{alert: alert}
		if ttl > 0 {
			entry.expiresAt = now.Add(ttl)
		}
		am.active[alert.Key] = entry
	}
	am.lastNotified[alert.Key] = now
	am.mu.Unlock()

	am.broadcast(alert)
}

// Resolve clears the alert for key and notifies sinks of the resolution.
// Unknown keys are ignored.
func (am *AlertManager) Resolve(key string) {
	now := am.now()

	am.mu.Lock()
	entry, ok := am.active[key]
	if !ok {
		am.mu.Unlock()
		return
	}
	delete(am.active, key)
	delete(am.lastNotified, key)

	resolved := entry.alert
	resolved.ResolvedAt = &now
	am.mu.Unlock()

	am.broadcast(resolved)
}

// Active returns the currently firing alerts, oldest first.
func (am *AlertManager) Active() []Alert {
	now := am.now()

	am.mu.Lock()
	alerts := make([]Alert, 0, len(am.active))
	for key, entry := range am.active {
		if am.expired(entry, now) {
			delete(am.active, key)
			delete(am.lastNotified, key)
			continue
		}
		alerts = append(alerts, entry.alert)
	}
	am.mu.Unlock()

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].FiredAt.Before(alerts[j].FiredAt) })
	return alerts
}

func (am *AlertManager) expired(entry *activeAlert, now time.Time) bool {
	return !entry.expiresAt.IsZero() && now.After(entry.expiresAt)
}

// Flush waits for in-flight sink notifications. Call on shutdown and in
// tests before asserting on sink deliveries.
func (am *AlertManager) Flush() {
	am.wg.Wait()
}

func (am *AlertManager) broadcast(alert Alert) {
	for _, sink := range am.sinks {
		am.wg.Add(1)
		go func(s Sink) {
			defer am.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), am.sinkTimeout)
			defer cancel()

			if err := s.Notify(ctx, alert); err != nil && am.logger != nil {
				am.logger.WithError(err).WithFields(map[string]interface{}{
					"sink":  s.Name(),
					"alert": alert.Key,
				}).Warn("Alert delivery failed")
			}
		}(sink)
	}
}

// quotaAlertTTL keeps quota alerts visible a little longer than the
// five-minute provider sideline they report.
const quotaAlertTTL = 10 * time.Minute

// CircuitTransition converts breaker state changes into alerts. Wire it as
// the circuit manager's state listener: an opening breaker fires, a closing
// one resolves.
func (am *AlertManager) CircuitTransition(provider, from, to string) {
	key := "circuit_open:" + provider
	switch to {
	case "open":
		am.Fire(Alert{
			Key:     key,
			Level:   AlertCritical,
			Source:  provider,
			Message: fmt.Sprintf("circuit for provider %s opened (was %s)", provider, from),
		})
	case "closed":
		am.Resolve(key)
	}
}

// QuotaExhausted reports a provider sidelined after rejecting a request for
// quota reasons. The alert expires on its own once the sideline is stale.
func (am *AlertManager) QuotaExhausted(provider string) {
	am.fireFor(Alert{
		Key:     "quota_exhausted:" + provider,
		Level:   AlertWarning,
		Source:  provider,
		Message: fmt.Sprintf("provider %s rejected a request for quota reasons and is sidelined", provider),
	}, quotaAlertTTL)
}

// WebhookSink posts the alert as JSON to an arbitrary HTTP endpoint.
type WebhookSink struct {
	URL     string
	Headers map[string]string
	client  *http.Client
}

// NewWebhookSink creates a webhook sink for url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{URL: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Notify(ctx context.Context, alert Alert) error {
	payload := map[string]interface{}{
		"service":   "herald",
		"alert":     alert,
		"timestamp": time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackSink posts alerts to a Slack incoming webhook.
type SlackSink struct {
	WebhookURL string
	client     *http.Client
}

// NewSlackSink creates a Slack sink for the given incoming-webhook URL.
func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{WebhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Notify(ctx context.Context, alert Alert) error {
	color := "good"
	title := fmt.Sprintf("[%s] %s", alert.Level, alert.Key)
	if alert.ResolvedAt == nil {
		switch alert.Level {
		case AlertWarning:
			color = "warning"
		case AlertCritical:
			color = "danger"
		}
	} else {
		title = fmt.Sprintf("[resolved] %s", alert.Key)
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"title": title,
				"text":  alert.Message,
				"fields": []map[string]interface{}{
					{"title": "Source", "value": alert.Source, "short": true},
					{"title": "Count", "value": fmt.Sprintf("%d", alert.Count), "short": true},
				},
				"ts": alert.FiredAt.Unix(),
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// TelegramSink sends alerts as Telegram bot messages.
type TelegramSink struct {
	BotToken string
	ChatID   string

	baseURL string
	client  *http.Client
}

// NewTelegramSink creates a Telegram sink for the given bot and chat.
func NewTelegramSink(botToken, chatID string) *TelegramSink {
	return &TelegramSink{
		BotToken: botToken,
		ChatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Notify(ctx context.Context, alert Alert) error {
	state := "firing"
	if alert.ResolvedAt != nil {
		state = "resolved"
	}
	text := fmt.Sprintf("*herald alert %s*\n%s\nlevel: %s\nsource: %s\ncount: %d",
		state, alert.Message, alert.Level, alert.Source, alert.Count)

	payload := map[string]interface{}{
		"chat_id":    s.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}
