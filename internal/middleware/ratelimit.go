package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// RateLimiter is a token bucket: burst tokens up front, one token back per
// refill interval.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	lastRefill time.Time
	refillRate time.Duration
	lastSeen   time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		lastRefill: now,
		refillRate: refillRate,
		lastSeen:   now,
	}
}

// Allow consumes a token when one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.lastSeen = now

	if refill := int(now.Sub(rl.lastRefill) / rl.refillRate); refill > 0 {
		rl.tokens += refill
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = rl.lastRefill.Add(time.Duration(refill) * rl.refillRate)
	}

	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}

func (rl *RateLimiter) idleSince(cutoff time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lastSeen.Before(cutoff)
}

// staleAfter bounds how long an idle caller keeps its bucket.
const staleAfter = 10 * time.Minute

// RateLimit enforces a per-caller token bucket on the send surface. Callers
// are keyed by authenticated user id, falling back to client IP for
// pre-auth rejections.
func RateLimit(maxTokens int, refillRate time.Duration) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*RateLimiter)

	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = c.ClientIP()
		}

		mu.Lock()
		limiter, ok := limiters[key]
		if !ok {
			limiter = NewRateLimiter(maxTokens, refillRate)
			limiters[key] = limiter
			// Prune idle buckets opportunistically so the map tracks
			// active callers, not every IP ever seen.
			if len(limiters) > 10_000 {
				cutoff := time.Now().Add(-staleAfter)
				for k, l := range limiters {
					if l.idleSince(cutoff) {
						delete(limiters, k)
					}
				}
			}
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.Header("Retry-After", fmt.Sprintf("%d", int(refillRate.Seconds())+1))
			AbortWithError(c, apperrors.New(apperrors.CodeRateLimited, "too many requests"))
			return
		}
		c.Next()
	}
}
