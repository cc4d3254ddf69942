package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

const azureTranslatorURL = "https://api.cognitive.microsofttranslator.com"

// AzureConfig holds the Microsoft Translator settings. Region must match
// the resource's region, or "global" for global resources.
type AzureConfig struct {
	Key     string
	Region  string
	BaseURL string
	Timeout time.Duration
}

// AzureProvider is the fourth tier, on Translator v3.
type AzureProvider struct {
	key     string
	region  string
	baseURL string
	client  *http.Client
}

// NewAzureProvider builds the Microsoft Translator client.
func NewAzureProvider(cfg AzureConfig) *AzureProvider {
	base := cfg.BaseURL
	if base == "" {
		base = azureTranslatorURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AzureProvider{
		key:     cfg.Key,
		region:  cfg.Region,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *AzureProvider) Name() string { return ProviderMicrosoft }

type azureResponse struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

type azureError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AzureProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := url.Values{}
	params.Set("api-version", "3.0")
	params.Set("to", strings.ToLower(primarySubtag(targetLang)))
	if sourceLang != "" {
		params.Set("from", strings.ToLower(primarySubtag(sourceLang)))
	}
	if htmlTagRe.MatchString(text) {
		params.Set("textType", "html")
	}

	payload, err := json.Marshal([]map[string]string{{"Text": text}})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "microsoft: marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/translate?"+params.Encode(), bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "microsoft: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)
	if p.region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", p.region)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyNetworkError(ProviderMicrosoft, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyAzureError(resp.StatusCode, body)
	}

	var parsed []azureResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed) == 0 || len(parsed[0].Translations) == 0 {
		return "", apperrors.New(apperrors.CodeServiceUnavail, "microsoft returned no translations")
	}
	return parsed[0].Translations[0].Text, nil
}

// classifyAzureError maps Translator's six-digit error codes. 403000-403001
// are quota verdicts; every 429xxx is rate limiting.
func classifyAzureError(status int, body []byte) error {
	var parsed azureError
	_ = json.Unmarshal(body, &parsed)

	switch parsed.Error.Code {
	case 403000, 403001:
		return apperrors.New(apperrors.CodeQuotaExhausted, "microsoft: "+parsed.Error.Message)
	case 429000, 429001, 429002:
		return apperrors.New(apperrors.CodeRateLimited, "microsoft: "+parsed.Error.Message)
	}
	return classifyStatus(ProviderMicrosoft, status, parsed.Error.Message)
}
