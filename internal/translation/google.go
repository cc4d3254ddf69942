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

const googleTranslateURL = "https://translation.googleapis.com"

// GoogleConfig holds the Google Cloud Translation v2 settings.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// GoogleProvider is the third tier, on the v2 REST surface (API-key auth,
// no service account needed).
type GoogleProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGoogleProvider builds the Google Translation client.
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	base := cfg.BaseURL
	if base == "" {
		base = googleTranslateURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *GoogleProvider) Name() string { return ProviderGoogle }

type googleRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source,omitempty"`
	Target string   `json:"target"`
	Format string   `json:"format"`
}

type googleResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
	Error *googleError `json:"error"`
}

type googleError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Errors  []struct {
		Reason string `json:"reason"`
	} `json:"errors"`
}

func (p *GoogleProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	// format=text keeps Google from entity-escaping plain strings; markup
	// switches to html so tags survive.
	format := "text"
	if htmlTagRe.MatchString(text) {
		format = "html"
	}

	payload, err := json.Marshal(googleRequest{
		Q:      []string{text},
		Source: strings.ToLower(primarySubtag(sourceLang)),
		Target: strings.ToLower(primarySubtag(targetLang)),
		Format: format,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "google: marshal request", err)
	}

	endpoint := p.baseURL + "/language/translate/v2?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "google: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyNetworkError(ProviderGoogle, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed googleResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyGoogleError(resp.StatusCode, parsed.Error)
	}

	if len(parsed.Data.Translations) == 0 {
		return "", apperrors.New(apperrors.CodeServiceUnavail, "google returned no translations")
	}
	return parsed.Data.Translations[0].TranslatedText, nil
}

// classifyGoogleError separates quota and rate-limit verdicts, which Google
// both serves as 403, before falling back to plain status classification.
func classifyGoogleError(status int, googleErr *googleError) error {
	detail := ""
	if googleErr != nil {
		detail = googleErr.Message
		for _, e := range googleErr.Errors {
			switch e.Reason {
			case "dailyLimitExceeded", "quotaExceeded":
				return apperrors.New(apperrors.CodeQuotaExhausted, "google: "+detail)
			case "userRateLimitExceeded", "rateLimitExceeded":
				return apperrors.New(apperrors.CodeRateLimited, "google: "+detail)
			}
		}
	}
	return classifyStatus(ProviderGoogle, status, detail)
}
