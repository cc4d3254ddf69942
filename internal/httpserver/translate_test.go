package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/translation"
)

type fakeTranslator struct {
	translateFn func(ctx context.Context, req translation.Request) (*translation.Result, error)
	batchFn     func(ctx context.Context, items []translation.BatchItem, targetLocale string) []translation.BatchResult
	healthFn    func(ctx context.Context) []translation.ProviderStatus
}

func (f *fakeTranslator) Translate(ctx context.Context, req translation.Request) (*translation.Result, error) {
	return f.translateFn(ctx, req)
}

func (f *fakeTranslator) TranslateBatch(ctx context.Context, items []translation.BatchItem, targetLocale string) []translation.BatchResult {
	return f.batchFn(ctx, items, targetLocale)
}

func (f *fakeTranslator) Health(ctx context.Context) []translation.ProviderStatus {
	return f.healthFn(ctx)
}

type fakeTranslationQueue struct {
	processFn func(ctx context.Context, limit int) (*translation.ProcessReport, error)
}

func (f *fakeTranslationQueue) Process(ctx context.Context, limit int) (*translation.ProcessReport, error) {
	return f.processFn(ctx, limit)
}

func TestHandleTranslate(t *testing.T) {
	var got translation.Request

	s := newTestServer(t, func(d *Deps) {
		d.Translator = &fakeTranslator{
			translateFn: func(_ context.Context, req translation.Request) (*translation.Result, error) {
				got = req
				return &translation.Result{
					TranslatedText: "Hallo Welt",
					SourceLang:     "en",
					TargetLang:     req.TargetLang,
					Provider:       "deepl",
					Quality:        0.9,
				}, nil
			},
		}
	})

	body := map[string]any{
		"text":       "Hello world",
		"targetLang": "de",
		"context":    "greeting banner",
	}
	w := do(s, asUser(t, jsonRequest(t, http.MethodPost, "/translate", body), uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello world", got.Text)
	assert.Equal(t, "de", got.TargetLang)
	assert.Equal(t, "greeting banner", got.Context)

	resp := decodeBody(t, w)
	assert.Equal(t, "Hallo Welt", resp["translatedText"])
	assert.Equal(t, "deepl", resp["provider"])
}

func TestHandleTranslateMissingTarget(t *testing.T) {
	s := newTestServer(t, func(d *Deps) {
		d.Translator = &fakeTranslator{}
	})

	w := do(s, asUser(t, jsonRequest(t, http.MethodPost, "/translate", map[string]any{"text": "hi"}), uuid.New()))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w.Body.Bytes()))
}

func TestHandleTranslateQuotaExhausted(t *testing.T) {
	s := newTestServer(t, func(d *Deps) {
		d.Translator = &fakeTranslator{
			translateFn: func(context.Context, translation.Request) (*translation.Result, error) {
				return nil, apperrors.New(apperrors.CodeQuotaExhausted, "all translation tiers exhausted")
			},
		}
	})

	body := map[string]any{"text": "hi", "targetLang": "fr"}
	w := do(s, asUser(t, jsonRequest(t, http.MethodPost, "/translate", body), uuid.New()))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "QUOTA_EXHAUSTED", errorCode(t, w.Body.Bytes()))
}

func TestHandleBatchTranslate(t *testing.T) {
	var gotItems []translation.BatchItem
	var gotLocale string

	s := newTestServer(t, func(d *Deps) {
		d.Translator = &fakeTranslator{
			batchFn: func(_ context.Context, items []translation.BatchItem, targetLocale string) []translation.BatchResult {
				gotItems = items
				gotLocale = targetLocale
				return []translation.BatchResult{
					{Key: "title", Result: &translation.Result{TranslatedText: "Titel", TargetLang: targetLocale, Provider: "cache", Cached: true}},
					{Key: "body", Err: apperrors.New(apperrors.CodeAllServicesFailed, "every provider failed")},
				}
			},
		}
	})

	body := map[string]any{
		"targetLocale": "de",
		"items": []map[string]any{
			{"key": "title", "text": "Title"},
			{"key": "body", "text": "Body", "sourceLang": "en"},
		},
	}
	w := do(s, asUser(t, jsonRequest(t, http.MethodPost, "/batch-translate", body), uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, gotItems, 2)
	assert.Equal(t, "de", gotLocale)
	assert.Equal(t, "en", gotItems[1].SourceLang)

	resp := decodeBody(t, w)
	results := resp["results"].(map[string]any)
	failed := resp["failed"].(map[string]any)

	require.Contains(t, results, "title")
	assert.Equal(t, "Titel", results["title"].(map[string]any)["translatedText"])
	require.Contains(t, failed, "body")
	assert.Contains(t, failed["body"], "every provider failed")
}

func TestHandleBatchTranslateValidation(t *testing.T) {
	s := newTestServer(t, func(d *Deps) {
		d.Translator = &fakeTranslator{}
	})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"no items", map[string]any{"targetLocale": "de", "items": []map[string]any{}}},
		{"no locale", map[string]any{"items": []map[string]any{{"key": "k", "text": "t"}}}},
		{"item missing text", map[string]any{"targetLocale": "de", "items": []map[string]any{{"key": "k"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, asUser(t, jsonRequest(t, http.MethodPost, "/batch-translate", tt.body), uuid.New()))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestProcessTranslationQueue(t *testing.T) {
	var gotLimit int

	s := newTestServer(t, func(d *Deps) {
		d.TranslationQueue = &fakeTranslationQueue{
			processFn: func(_ context.Context, limit int) (*translation.ProcessReport, error) {
				gotLimit = limit
				return &translation.ProcessReport{Claimed: 4, Completed: 3, Failed: 1}, nil
			},
		}
	})

	w := do(s, asCron(jsonRequest(t, http.MethodPost, "/translate/process-queue", nil)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultTranslationQueueLimit, gotLimit)

	resp := decodeBody(t, w)
	assert.Equal(t, float64(3), resp["completed"])
	assert.Equal(t, float64(1), resp["failed"])
}

func TestTranslateHealth(t *testing.T) {
	s := newTestServer(t, func(d *Deps) {
		d.Translator = &fakeTranslator{
			healthFn: func(context.Context) []translation.ProviderStatus {
				return []translation.ProviderStatus{
					{Provider: "llm", Configured: true, Circuit: "closed", QuotaPercent: 12.5},
					{Provider: "deepl", Configured: true, Circuit: "open", QuotaPercent: 100, Exhausted: true},
				}
			},
		}
	})

	w := do(s, asUser(t, jsonRequest(t, http.MethodGet, "/translate/health", nil), uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody(t, w)
	providers := resp["providers"].([]any)
	require.Len(t, providers, 2)

	second := providers[1].(map[string]any)
	assert.Equal(t, "deepl", second["provider"])
	assert.Equal(t, true, second["exhausted"])
}
