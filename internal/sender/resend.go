package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

const resendBaseURL = "https://api.resend.com"

// ResendConfig holds the Resend provider settings.
type ResendConfig struct {
	APIKey  string
	From    string
	Timeout time.Duration
	// BaseURL overrides the API endpoint (tests).
	BaseURL string
}

// ResendProvider sends mail through the Resend API.
type ResendProvider struct {
	apiKey     string
	from       string
	baseURL    string
	httpClient *http.Client
}

// NewResendProvider creates the provider.
func NewResendProvider(cfg ResendConfig) *ResendProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendBaseURL
	}

	return &ResendProvider{
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *ResendProvider) Name() string { return "resend" }

// Send posts the mail and returns the Resend message id.
func (p *ResendProvider) Send(ctx context.Context, m *Mail) (string, error) {
	reqBody := map[string]interface{}{
		"from":    p.from,
		"to":      []string{m.To},
		"subject": m.Subject,
	}
	if m.HTML != "" {
		reqBody["html"] = m.HTML
	}
	if m.Text != "" {
		reqBody["text"] = m.Text
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", classifyNetworkError("resend", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", classifyNetworkError("resend", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", classifyNetworkError("resend", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyNetworkError("resend", err)
	}

	if resp.StatusCode == http.StatusOK {
		var ok struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(respBody, &ok)
		return ok.ID, nil
	}

	var apiErr struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(respBody, &apiErr)

	if apiErr.Name == "daily_quota_exceeded" || apiErr.Name == "monthly_quota_exceeded" {
		return "", apperrors.New(apperrors.CodeQuotaExhausted, "resend quota exceeded: "+apiErr.Message)
	}
	return "", classifyStatus("resend", resp.StatusCode, apiErr.Message)
}
