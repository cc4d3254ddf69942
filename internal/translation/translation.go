// Package translation implements the five-tier translation engine: a
// self-hosted LLM first, then DeepL, Google, Microsoft, and Amazon as
// fallbacks. Lookups walk an in-process LRU, the distributed cache, and the
// persisted translation table before any provider is called; concurrent
// identical requests coalesce onto one in-flight call. Providers share the
// circuit-breaker, retry-budget, and monthly-quota discipline of the
// notification senders.
package translation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Tier order. Fallbacks rotate their starting index per request to spread
// load; the LLM always goes first because it is the only tier without a
// per-character bill.
const (
	ProviderLLM       = "llm"
	ProviderDeepL     = "deepl"
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
	ProviderAmazon    = "amazon"
)

// TierOrder is the canonical provider ordering, primary first.
var TierOrder = []string{ProviderLLM, ProviderDeepL, ProviderGoogle, ProviderMicrosoft, ProviderAmazon}

// Provider is one upstream translation API. Implementations classify their
// own failures into the shared error taxonomy.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Request is one translation job. ContentType/ContentID/FieldName identify
// the row the result is persisted under; without them the result is stored
// under its source hash so repeat requests for the same text still hit the
// database tier.
type Request struct {
	Text       string
	SourceLang string
	TargetLang string

	// Context is a short hint for the LLM tier ("listing title",
	// "chat message"). Other tiers ignore it.
	Context string

	ContentType string
	ContentID   string
	FieldName   string
}

// Result is a completed translation and where it came from.
type Result struct {
	TranslatedText string  `json:"translatedText"`
	SourceLang     string  `json:"sourceLang,omitempty"`
	TargetLang     string  `json:"targetLang"`
	Provider       string  `json:"provider"`
	Quality        float64 `json:"quality"`
	Cached         bool    `json:"cached"`
	LatencyMs      int64   `json:"latencyMs"`
}

// Record is a persisted translation row keyed by its content identity.
type Record struct {
	ContentType    string
	ContentID      string
	FieldName      string
	TargetLocale   string
	SourceHash     string
	TranslatedText string
	Quality        float64
	Provider       string
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QueueStatus is the lifecycle of a queued translation item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem is one deferred translation, upserted on its content identity so
// re-enqueuing the same field never duplicates work.
type QueueItem struct {
	ID           string
	ContentType  string
	ContentID    string
	FieldName    string
	TargetLocale string
	SourceText   string
	SourceLang   string
	Status       QueueStatus
	Attempts     int
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SourceHash fingerprints a source text for database-tier lookups. The hash
// ignores leading and trailing whitespace so re-saves with trimmed content
// still hit.
func SourceHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

// cacheKey identifies one (source lang, target lang, text) triple across the
// LRU, the distributed cache, and the coalescing group.
func cacheKey(text, sourceLang, targetLang string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(sourceLang)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(targetLang)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
