package translation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/cache"
)

func newTestRemote(t *testing.T) (*cache.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return cache.NewFromClient(client), mr
}

func TestCacheLocalOnly(t *testing.T) {
	c := NewCache(nil, nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Put(ctx, "k1", cachedTranslation{Text: "Ahoj", Provider: ProviderLLM, Quality: 0.95})

	hit, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "Ahoj", hit.Text)
	assert.Equal(t, ProviderLLM, hit.Provider)
	assert.Equal(t, 1, c.Len())
}

func TestCachePutWritesBothLayers(t *testing.T) {
	remote, mr := newTestRemote(t)
	c := NewCache(remote, nil)

	c.Put(context.Background(), "k1", cachedTranslation{Text: "Ahoj", Provider: ProviderDeepL, Quality: 0.9})

	assert.Equal(t, 1, c.Len())
	assert.True(t, mr.Exists(redisKeyPrefix+"k1"))

	ttl := mr.TTL(redisKeyPrefix + "k1")
	assert.Equal(t, redisCacheTTL, ttl)
}

func TestCacheRedisHitPromotesToLocal(t *testing.T) {
	remote, mr := newTestRemote(t)
	ctx := context.Background()

	// Replica A pays for the translation; replica B starts cold.
	replicaA := NewCache(remote, nil)
	replicaB := NewCache(remote, nil)

	replicaA.Put(ctx, "k1", cachedTranslation{Text: "Ahoj", Provider: ProviderGoogle, Quality: 0.85})

	hit, ok := replicaB.Get(ctx, "k1")
	require.True(t, ok, "replica B should hit via Redis")
	assert.Equal(t, "Ahoj", hit.Text)

	// The Redis hit lands in B's local layer: losing the key in Redis must
	// not lose the answer.
	mr.Del(redisKeyPrefix + "k1")

	hit, ok = replicaB.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, ProviderGoogle, hit.Provider)
}

func TestCacheRedisEntryExpires(t *testing.T) {
	remote, mr := newTestRemote(t)
	ctx := context.Background()

	NewCache(remote, nil).Put(ctx, "k1", cachedTranslation{Text: "Ahoj"})

	mr.FastForward(redisCacheTTL + time.Minute)

	// A fresh replica sees nothing once the Redis entry lapses.
	_, ok := NewCache(remote, nil).Get(ctx, "k1")
	assert.False(t, ok)
}

func TestCacheSurvivesRedisOutage(t *testing.T) {
	remote, mr := newTestRemote(t)
	c := NewCache(remote, nil)
	ctx := context.Background()

	mr.Close()

	// Writes and reads degrade to the local layer instead of failing.
	c.Put(ctx, "k1", cachedTranslation{Text: "Ahoj"})

	hit, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "Ahoj", hit.Text)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestCacheKey(t *testing.T) {
	base := cacheKey("Hello world", "en", "cs")

	assert.Equal(t, base, cacheKey("Hello world", "EN", "CS"), "language case must not fragment the cache")
	assert.NotEqual(t, base, cacheKey("Hello world", "en", "de"))
	assert.NotEqual(t, base, cacheKey("Hello world!", "en", "cs"))
	assert.NotEqual(t, base, cacheKey("Hello world", "cs", "en"))

	// The NUL separators keep (lang, text) boundaries unambiguous.
	assert.NotEqual(t, cacheKey("a", "bc", "d"), cacheKey("ca", "b", "d"))
}

func TestSourceHash(t *testing.T) {
	assert.Len(t, SourceHash("Hello"), 64)
	assert.Equal(t, SourceHash("Hello"), SourceHash("  Hello \n"))
	assert.NotEqual(t, SourceHash("Hello"), SourceHash("hello"))
}
