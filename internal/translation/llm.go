package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// llmTimeout bounds one completion call. The LLM is the cheapest tier but
// also the slowest under load; past this the paid tiers are faster anyway.
const llmTimeout = 10 * time.Second

// LLMConfig points at an OpenAI-compatible chat completions server.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LLMProvider is the primary tier: a self-hosted model behind an
// OpenAI-compatible /v1/chat/completions endpoint.
type LLMProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewLLMProvider builds the LLM tier client.
func NewLLMProvider(cfg LLMConfig) *LLMProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = llmTimeout
	}
	return &LLMProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *LLMProvider) Name() string { return ProviderLLM }

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmRequest struct {
	Model       string       `json:"model"`
	Messages    []llmMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
}

type llmResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Translate asks the model for the translation and nothing else. The system
// prompt pins the output format; the quality scorer catches the days the
// model ignores it.
func (p *LLMProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return p.TranslateWithContext(ctx, text, sourceLang, targetLang, "")
}

// TranslateWithContext adds a short domain hint ("listing title") to the
// system prompt.
func (p *LLMProvider) TranslateWithContext(ctx context.Context, text, sourceLang, targetLang, hint string) (string, error) {
	payload, err := json.Marshal(llmRequest{
		Model: p.model,
		Messages: []llmMessage{
			{Role: "system", Content: systemPrompt(sourceLang, targetLang, hint)},
			{Role: "user", Content: text},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "llm: marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "llm: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", classifyNetworkError(ProviderLLM, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed llmResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := ""
		if parsed.Error != nil {
			detail = parsed.Error.Message
		}
		return "", classifyStatus(ProviderLLM, resp.StatusCode, detail)
	}

	if len(parsed.Choices) == 0 {
		return "", apperrors.New(apperrors.CodeServiceUnavail, "llm returned no choices")
	}

	out := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if out == "" {
		return "", apperrors.New(apperrors.CodeServiceUnavail, "llm returned an empty completion")
	}
	return out, nil
}

func systemPrompt(sourceLang, targetLang, hint string) string {
	var b strings.Builder
	if sourceLang != "" {
		fmt.Fprintf(&b, "Translate the user's text from %s to %s.", languageName(sourceLang), languageName(targetLang))
	} else {
		fmt.Fprintf(&b, "Translate the user's text to %s.", languageName(targetLang))
	}
	b.WriteString(" Preserve HTML tags, placeholders like {name}, numbers, and line breaks exactly.")
	b.WriteString(" Reply with the translation only, no explanations.")
	if hint != "" {
		fmt.Fprintf(&b, " The text is a %s.", hint)
	}
	return b.String()
}

// languageName expands common locale codes so small models do not have to
// guess what "cs" means. Unknown codes pass through unchanged.
func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(primarySubtag(code))]; ok {
		return name
	}
	return code
}

var languageNames = map[string]string{
	"en": "English",
	"cs": "Czech",
	"sk": "Slovak",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"pt": "Portuguese",
	"pl": "Polish",
	"nl": "Dutch",
	"da": "Danish",
	"sv": "Swedish",
	"no": "Norwegian",
	"fi": "Finnish",
	"hu": "Hungarian",
	"ro": "Romanian",
	"bg": "Bulgarian",
	"el": "Greek",
	"tr": "Turkish",
	"uk": "Ukrainian",
	"ru": "Russian",
	"ar": "Arabic",
	"he": "Hebrew",
	"hi": "Hindi",
	"th": "Thai",
	"vi": "Vietnamese",
	"id": "Indonesian",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
}
