package translation

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/telemetry"
)

const (
	localCacheSize = 10_000
	localCacheTTL  = time.Hour
	redisCacheTTL  = 24 * time.Hour

	redisKeyPrefix = "translation:v1:"
)

// cachedTranslation is the value stored in both cache layers.
type cachedTranslation struct {
	Text     string  `json:"text"`
	Provider string  `json:"provider"`
	Quality  float64 `json:"quality"`
}

// Cache layers an in-process expirable LRU over the shared Redis instance.
// The LRU answers the hot path; Redis lets every replica reuse a translation
// paid for once. Both layers are best effort: a Redis failure reads as a
// miss and the write is retried implicitly by the next miss.
type Cache struct {
	local  *expirable.LRU[string, cachedTranslation]
	remote *cache.Redis
	logger *telemetry.ContextualLogger
}

// NewCache builds the two-layer cache. remote may be nil, leaving only the
// process-local layer.
func NewCache(remote *cache.Redis, logger *telemetry.ContextualLogger) *Cache {
	return &Cache{
		local:  expirable.NewLRU[string, cachedTranslation](localCacheSize, nil, localCacheTTL),
		remote: remote,
		logger: logger,
	}
}

// Get looks the key up locally, then in Redis. A Redis hit is promoted into
// the local layer.
func (c *Cache) Get(ctx context.Context, key string) (cachedTranslation, bool) {
	if hit, ok := c.local.Get(key); ok {
		return hit, true
	}

	if c.remote == nil {
		return cachedTranslation{}, false
	}

	var hit cachedTranslation
	if err := c.remote.Get(ctx, redisKeyPrefix+key, &hit); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			c.log(ctx).WithError(err).Debug("Translation cache read failed")
		}
		return cachedTranslation{}, false
	}

	c.local.Add(key, hit)
	return hit, true
}

// Put stores the translation in both layers.
func (c *Cache) Put(ctx context.Context, key string, value cachedTranslation) {
	c.local.Add(key, value)

	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, redisKeyPrefix+key, value, redisCacheTTL); err != nil {
		c.log(ctx).WithError(err).Debug("Translation cache write failed")
	}
}

// Len reports the local layer's size, for the health endpoint.
func (c *Cache) Len() int {
	return c.local.Len()
}

func (c *Cache) log(ctx context.Context) *telemetry.ContextualLogger {
	if c.logger != nil {
		return c.logger
	}
	return telemetry.LogFromContext(ctx)
}
