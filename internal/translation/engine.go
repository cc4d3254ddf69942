package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/quota"
	"github.com/heraldhq/herald/internal/resilience"
	"github.com/heraldhq/herald/internal/telemetry"
)

const (
	// Rows written for an ad-hoc request, with no content identity of
	// their own, are keyed by their source hash.
	contentTypeAdhoc = "adhoc"
	fieldNameText    = "text"

	// Full-quality rows live long; low-quality ones expire fast so the
	// next request gets a chance to do better.
	persistTTL           = 30 * 24 * time.Hour
	persistLowQualityTTL = time.Hour
)

// hintedProvider is the optional upgrade for tiers that can use the request
// context ("listing title"). In practice that is the LLM.
type hintedProvider interface {
	TranslateWithContext(ctx context.Context, text, sourceLang, targetLang, hint string) (string, error)
}

// Engine walks the tier chain for each translation: caches first, then the
// persisted table, then the providers. The LLM always leads; the paid
// fallbacks rotate their starting index so no single vendor absorbs every
// LLM outage. Per-provider circuit breakers, bounded retries, and monthly
// character quotas ride along exactly as they do for the email senders.
type Engine struct {
	providers map[string]Provider
	cache     *Cache
	store     Store
	circuits  *resilience.CircuitManager
	quota     *quota.Manager
	retry     resilience.RetryConfig
	flight    singleflight.Group
	next      atomic.Uint64
	logger    *telemetry.ContextualLogger
}

// NewEngine wires the configured providers. store may be nil, dropping the
// database tier.
func NewEngine(providers []Provider, cache *Cache, store Store, circuits *resilience.CircuitManager, quotas *quota.Manager, retry resilience.RetryConfig, logger *telemetry.ContextualLogger) *Engine {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Engine{
		providers: byName,
		cache:     cache,
		store:     store,
		circuits:  circuits,
		quota:     quotas,
		retry:     retry,
		logger:    logger,
	}
}

// Translate resolves one text. Identical concurrent requests share a single
// provider call; repeats within the TTL never leave the process.
func (e *Engine) Translate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "translation text must not be empty")
	}
	if strings.TrimSpace(req.TargetLang) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "target language must not be empty")
	}

	// Same primary language in and out is a passthrough, not a provider
	// call.
	if req.SourceLang != "" && strings.EqualFold(primarySubtag(req.SourceLang), strings.TrimSpace(primarySubtag(req.TargetLang))) {
		return &Result{
			TranslatedText: req.Text,
			SourceLang:     req.SourceLang,
			TargetLang:     req.TargetLang,
			Provider:       "source",
			Quality:        1,
			LatencyMs:      elapsedMs(start),
		}, nil
	}

	key := cacheKey(text, req.SourceLang, req.TargetLang)

	if hit, ok := e.cache.Get(ctx, key); ok {
		return &Result{
			TranslatedText: hit.Text,
			SourceLang:     req.SourceLang,
			TargetLang:     req.TargetLang,
			Provider:       hit.Provider,
			Quality:        hit.Quality,
			Cached:         true,
			LatencyMs:      elapsedMs(start),
		}, nil
	}

	// The first caller for a key does the work; concurrent duplicates
	// wait for its result instead of paying for the same characters twice.
	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		return e.translateUncached(ctx, req, text, key)
	})
	if err != nil {
		return nil, err
	}

	res := v.(*Result)
	out := *res
	out.LatencyMs = elapsedMs(start)
	return &out, nil
}

func (e *Engine) translateUncached(ctx context.Context, req Request, text, key string) (*Result, error) {
	// Database tier: someone may have paid for this exact text already.
	if rec := e.lookupStored(ctx, text, req.TargetLang); rec != nil {
		hit := cachedTranslation{Text: rec.TranslatedText, Provider: rec.Provider, Quality: rec.Quality}
		e.cache.Put(ctx, key, hit)
		return &Result{
			TranslatedText: rec.TranslatedText,
			SourceLang:     req.SourceLang,
			TargetLang:     req.TargetLang,
			Provider:       rec.Provider,
			Quality:        rec.Quality,
			Cached:         true,
		}, nil
	}

	if len(e.providers) == 0 {
		return nil, apperrors.New(apperrors.CodeServiceUnavail, "no translation providers configured")
	}

	chars := int64(utf8.RuneCountInString(text))
	candidates := e.eligible(ctx, chars)
	if len(candidates) == 0 {
		return nil, apperrors.New(apperrors.CodeCircuitOpen,
			"every translation provider is circuit-open or quota-exhausted")
	}

	var (
		best     *Result
		failures []string
	)

	for _, name := range candidates {
		provider := e.providers[name]

		var out string
		_, err := resilience.Retry(ctx, e.retry, func() error {
			_, execErr := e.circuits.Execute(name, func() (interface{}, error) {
				translated, tErr := translateWith(ctx, provider, req, text)
				if tErr != nil {
					return nil, tErr
				}
				out = translated
				return nil, nil
			})
			return execErr
		})

		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", name, err.Error()))
			if apperrors.CodeOf(err) == apperrors.CodeQuotaExhausted {
				// The provider's own verdict is authoritative.
				e.quota.MarkExhausted(name)
			}
			e.log(ctx).WithError(err).WithField("provider", name).Warn("Translation provider failed, trying next")
			continue
		}

		// The provider billed these characters whether or not we keep
		// the answer.
		e.quota.Record(ctx, name, chars)

		result := &Result{
			TranslatedText: out,
			SourceLang:     req.SourceLang,
			TargetLang:     req.TargetLang,
			Provider:       name,
			Quality:        Quality(text, out),
		}

		if result.Quality >= MinQuality {
			e.persist(ctx, req, text, result)
			e.cache.Put(ctx, key, cachedTranslation{Text: out, Provider: name, Quality: result.Quality})
			return result, nil
		}

		failures = append(failures, fmt.Sprintf("%s: quality %.2f below %.2f", name, result.Quality, MinQuality))
		e.log(ctx).WithFields(logrus.Fields{
			"provider": name,
			"quality":  result.Quality,
		}).Warn("Translation quality below threshold, trying next")

		if best == nil || result.Quality > best.Quality {
			best = result
		}
	}

	// Every tier either failed or scored low. A poor translation still
	// beats an error page, so the best candidate wins. It is persisted
	// with a short expiry and kept out of the caches so a later request
	// can improve on it.
	if best != nil {
		e.persist(ctx, req, text, best)
		return best, nil
	}

	return nil, apperrors.New(apperrors.CodeAllServicesFailed, strings.Join(failures, "; "))
}

// translateWith passes the request hint to providers that accept one.
func translateWith(ctx context.Context, p Provider, req Request, text string) (string, error) {
	if hp, ok := p.(hintedProvider); ok && req.Context != "" {
		return hp.TranslateWithContext(ctx, text, req.SourceLang, req.TargetLang, req.Context)
	}
	return p.Translate(ctx, text, req.SourceLang, req.TargetLang)
}

// lookupStored checks the persisted table for a live, good-enough
// translation of the same source text. Store errors read as a miss.
func (e *Engine) lookupStored(ctx context.Context, text, targetLang string) *Record {
	if e.store == nil {
		return nil
	}
	rec, err := e.store.LookupBySourceHash(ctx, SourceHash(text), targetLang)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log(ctx).WithError(err).Debug("Stored translation lookup failed")
		}
		return nil
	}
	if rec.Quality < MinQuality {
		return nil
	}
	return rec
}

// eligible builds this request's tier order: the LLM first when configured,
// then the paid fallbacks starting from a rotating index. Open circuits and
// exhausted quotas drop out.
func (e *Engine) eligible(ctx context.Context, chars int64) []string {
	var fallbacks []string
	for _, name := range TierOrder[1:] {
		if _, ok := e.providers[name]; ok {
			fallbacks = append(fallbacks, name)
		}
	}

	var order []string
	if _, ok := e.providers[ProviderLLM]; ok {
		order = append(order, ProviderLLM)
	}
	if len(fallbacks) > 0 {
		start := int((e.next.Add(1) - 1) % uint64(len(fallbacks)))
		order = append(order, fallbacks[start:]...)
		order = append(order, fallbacks[:start]...)
	}

	var names []string
	for _, name := range order {
		if !e.circuits.Allow(name) {
			continue
		}
		if err := e.quota.Allow(ctx, name, chars); err != nil {
			e.log(ctx).WithField("provider", name).Debug("Skipping quota-exhausted translation provider")
			continue
		}
		names = append(names, name)
	}
	return names
}

// persist upserts the result under the request's content identity, or under
// the source hash for ad-hoc requests. Failures are logged; the translation
// is already in hand.
func (e *Engine) persist(ctx context.Context, req Request, text string, res *Result) {
	if e.store == nil {
		return
	}

	contentType, contentID, fieldName := req.ContentType, req.ContentID, req.FieldName
	if contentType == "" {
		contentType = contentTypeAdhoc
		contentID = SourceHash(text)
		fieldName = fieldNameText
	}

	ttl := persistTTL
	if res.Quality < MinQuality {
		ttl = persistLowQualityTTL
	}
	expires := time.Now().Add(ttl)

	rec := &Record{
		ContentType:    contentType,
		ContentID:      contentID,
		FieldName:      fieldName,
		TargetLocale:   req.TargetLang,
		SourceHash:     SourceHash(text),
		TranslatedText: res.TranslatedText,
		Quality:        res.Quality,
		Provider:       res.Provider,
		ExpiresAt:      &expires,
	}
	if err := e.store.UpsertTranslation(ctx, rec); err != nil {
		e.log(ctx).WithError(err).Warn("Failed to persist translation")
	}
}

// BatchItem is one entry of a batch translation request.
type BatchItem struct {
	Key        string
	Text       string
	SourceLang string
	Context    string
}

// BatchResult pairs a batch entry with its outcome.
type BatchResult struct {
	Key    string
	Result *Result
	Err    error
}

// batchConcurrency bounds parallel provider calls per batch.
const batchConcurrency = 4

// TranslateBatch translates every item into the target locale with bounded
// parallelism. Items fail independently; results keep the input order.
func (e *Engine) TranslateBatch(ctx context.Context, items []BatchItem, targetLocale string) []BatchResult {
	results := make([]BatchResult, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, item := range items {
		g.Go(func() error {
			res, err := e.Translate(gctx, Request{
				Text:       item.Text,
				SourceLang: item.SourceLang,
				TargetLang: targetLocale,
				Context:    item.Context,
			})
			results[i] = BatchResult{Key: item.Key, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ProviderStatus is one tier's health snapshot.
type ProviderStatus struct {
	Provider     string  `json:"provider"`
	Configured   bool    `json:"configured"`
	Circuit      string  `json:"circuit"`
	QuotaPercent float64 `json:"quotaPercent"`
	Exhausted    bool    `json:"exhausted"`
}

// Health reports every tier in order, configured or not, so the ops
// dashboard shows holes in the chain.
func (e *Engine) Health(ctx context.Context) []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(TierOrder))
	for _, name := range TierOrder {
		_, configured := e.providers[name]
		status := ProviderStatus{Provider: name, Configured: configured}
		if configured {
			status.Circuit = e.circuits.State(name)
			status.QuotaPercent = e.quota.UsagePercent(ctx, name)
			status.Exhausted = e.quota.IsExhausted(name)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// CacheLen reports the local cache size, for the health endpoint.
func (e *Engine) CacheLen() int {
	return e.cache.Len()
}

func (e *Engine) log(ctx context.Context) *telemetry.ContextualLogger {
	if e.logger != nil {
		return e.logger
	}
	return telemetry.LogFromContext(ctx)
}

func elapsedMs(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms <= 0 {
		return 1
	}
	return ms
}
