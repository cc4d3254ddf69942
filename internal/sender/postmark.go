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

const postmarkBaseURL = "https://api.postmarkapp.com"

// Postmark API error codes that need handling beyond the HTTP status.
// https://postmarkapp.com/developer/api/overview#error-codes
const (
	postmarkErrInvalidEmail      = 300
	postmarkErrNotEnoughCredits  = 405
	postmarkErrInactiveRecipient = 406
)

// PostmarkConfig holds the Postmark provider settings.
type PostmarkConfig struct {
	ServerToken string
	From        string
	Timeout     time.Duration
	// BaseURL overrides the API endpoint (tests).
	BaseURL string
}

// PostmarkProvider sends mail through the Postmark transactional API.
type PostmarkProvider struct {
	serverToken string
	from        string
	baseURL     string
	httpClient  *http.Client
}

func NewPostmarkProvider(cfg PostmarkConfig) *PostmarkProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = postmarkBaseURL
	}
	return &PostmarkProvider{
		serverToken: cfg.ServerToken,
		from:        cfg.From,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (p *PostmarkProvider) Name() string { return "postmark" }

func (p *PostmarkProvider) Send(ctx context.Context, m *Mail) (string, error) {
	body, err := json.Marshal(map[string]string{
		"From":          p.from,
		"To":            m.To,
		"Subject":       m.Subject,
		"HtmlBody":      m.HTML,
		"TextBody":      m.Text,
		"MessageStream": "outbound",
	})
	if err != nil {
		return "", classifyNetworkError("postmark", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return "", classifyNetworkError("postmark", err)
	}
	req.Header.Set("X-Postmark-Server-Token", p.serverToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", classifyNetworkError("postmark", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	var result struct {
		MessageID string `json:"MessageID"`
		ErrorCode int    `json:"ErrorCode"`
		Message   string `json:"Message"`
	}
	_ = json.Unmarshal(respBody, &result)

	if resp.StatusCode == http.StatusOK && result.ErrorCode == 0 {
		return result.MessageID, nil
	}

	// Postmark reports API-level failures as 422 with a structured code.
	switch result.ErrorCode {
	case postmarkErrInactiveRecipient:
		return "", apperrors.New(apperrors.CodeSuppressedAddress, "postmark: "+result.Message)
	case postmarkErrInvalidEmail:
		return "", apperrors.New(apperrors.CodeValidation, "postmark: "+result.Message)
	case postmarkErrNotEnoughCredits:
		return "", apperrors.New(apperrors.CodeQuotaExhausted, "postmark: "+result.Message)
	}
	return "", classifyStatus("postmark", resp.StatusCode, result.Message)
}
