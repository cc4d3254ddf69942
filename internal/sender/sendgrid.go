package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"time"
)

const sendGridBaseURL = "https://api.sendgrid.com"

// SendGridConfig holds the SendGrid provider settings.
type SendGridConfig struct {
	APIKey  string
	From    string
	Timeout time.Duration
	// BaseURL overrides the API endpoint (tests).
	BaseURL string
}

// SendGridProvider sends mail through the SendGrid v3 API.
type SendGridProvider struct {
	apiKey     string
	fromEmail  string
	fromName   string
	baseURL    string
	httpClient *http.Client
}

// NewSendGridProvider creates the provider. The configured From may be a
// bare address or "Name <address>".
func NewSendGridProvider(cfg SendGridConfig) *SendGridProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridBaseURL
	}

	fromEmail, fromName := cfg.From, ""
	if parsed, err := mail.ParseAddress(cfg.From); err == nil {
		fromEmail, fromName = parsed.Address, parsed.Name
	}

	return &SendGridProvider{
		apiKey:     cfg.APIKey,
		fromEmail:  fromEmail,
		fromName:   fromName,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *SendGridProvider) Name() string { return "sendgrid" }

// Send posts the mail and returns the X-Message-Id assigned by SendGrid.
func (p *SendGridProvider) Send(ctx context.Context, m *Mail) (string, error) {
	from := map[string]string{"email": p.fromEmail}
	if p.fromName != "" {
		from["name"] = p.fromName
	}

	// SendGrid requires text/plain before text/html.
	var content []map[string]string
	if m.Text != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": m.Text})
	}
	if m.HTML != "" {
		content = append(content, map[string]string{"type": "text/html", "value": m.HTML})
	}

	body, err := json.Marshal(map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": m.To}}},
		},
		"from":    from,
		"subject": m.Subject,
		"content": content,
	})
	if err != nil {
		return "", classifyNetworkError("sendgrid", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", classifyNetworkError("sendgrid", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", classifyNetworkError("sendgrid", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusAccepted {
		return resp.Header.Get("X-Message-Id"), nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Errors []struct {
			Message string `json:"message"`
			Field   string `json:"field"`
		} `json:"errors"`
	}
	_ = json.Unmarshal(respBody, &apiErr)

	detail := ""
	if len(apiErr.Errors) > 0 {
		detail = apiErr.Errors[0].Message
		if apiErr.Errors[0].Field != "" {
			detail = fmt.Sprintf("%s (%s)", detail, apiErr.Errors[0].Field)
		}
	}
	return "", classifyStatus("sendgrid", resp.StatusCode, detail)
}
