package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

const (
	deeplProURL  = "https://api.deepl.com"
	deeplFreeURL = "https://api-free.deepl.com"

	// DeepL signals an exhausted character quota with this status.
	deeplStatusQuotaExceeded = 456
)

// DeepLConfig holds the DeepL tier settings. BaseURL overrides the API host
// (tests); otherwise the key suffix picks the free or pro host.
type DeepLConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// DeepLProvider is the second tier.
type DeepLProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewDeepLProvider builds the DeepL client. Keys issued for the free plan
// carry a ":fx" suffix and live on a separate host.
func NewDeepLProvider(cfg DeepLConfig) *DeepLProvider {
	base := cfg.BaseURL
	if base == "" {
		base = deeplProURL
		if strings.HasSuffix(cfg.APIKey, ":fx") {
			base = deeplFreeURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DeepLProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *DeepLProvider) Name() string { return ProviderDeepL }

type deeplRequest struct {
	Text        []string `json:"text"`
	TargetLang  string   `json:"target_lang"`
	SourceLang  string   `json:"source_lang,omitempty"`
	TagHandling string   `json:"tag_handling,omitempty"`
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
	Message string `json:"message"`
}

func (p *DeepLProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	reqBody := deeplRequest{
		Text:       []string{text},
		TargetLang: deeplTarget(targetLang),
		SourceLang: deeplSource(sourceLang),
	}
	if htmlTagRe.MatchString(text) {
		reqBody.TagHandling = "html"
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "deepl: marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/translate", bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "deepl: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyNetworkError(ProviderDeepL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed deeplResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == deeplStatusQuotaExceeded {
			return "", apperrors.New(apperrors.CodeQuotaExhausted, "deepl character quota exhausted")
		}
		return "", classifyStatus(ProviderDeepL, resp.StatusCode, parsed.Message)
	}

	if len(parsed.Translations) == 0 {
		return "", apperrors.New(apperrors.CodeServiceUnavail, "deepl returned no translations")
	}
	return parsed.Translations[0].Text, nil
}

// deeplTarget maps a locale onto DeepL's target codes. DeepL requires a
// regional variant for English and Portuguese targets.
func deeplTarget(locale string) string {
	code := strings.ToUpper(primarySubtag(locale))
	switch code {
	case "EN":
		return "EN-US"
	case "PT":
		return "PT-BR"
	default:
		return code
	}
}

// deeplSource maps a locale onto DeepL's source codes; empty means
// auto-detect.
func deeplSource(locale string) string {
	if locale == "" {
		return ""
	}
	return strings.ToUpper(primarySubtag(locale))
}

// primarySubtag strips a region suffix: "en-US" → "en".
func primarySubtag(locale string) string {
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		return locale[:i]
	}
	return locale
}
