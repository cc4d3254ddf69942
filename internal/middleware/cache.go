package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/telemetry"
)

const cacheKeyPrefix = "respcache:v1:"

// cachedResponse is the stored representation of one GET response.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// ResponseCache serves repeated GETs of aggregate read endpoints (stats,
// health detail) from Redis for ttl. Only 200 responses are stored; the
// cache key covers path, query, and the caller so authed views never leak
// across users. A Redis failure falls through to the handler.
func ResponseCache(redis *cache.Redis, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redis == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := cacheKeyPrefix + responseKey(c)

		var hit cachedResponse
		if err := redis.Get(c.Request.Context(), key, &hit); err == nil {
			c.Header("X-Cache", "HIT")
			c.Data(hit.Status, hit.ContentType, hit.Body)
			c.Abort()
			return
		}

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Header("X-Cache", "MISS")
		c.Next()

		if writer.Status() != http.StatusOK {
			return
		}
		entry := cachedResponse{
			Status:      writer.Status(),
			ContentType: writer.Header().Get("Content-Type"),
			Body:        writer.buf.Bytes(),
		}
		if err := redis.Set(c.Request.Context(), key, entry, ttl); err != nil {
			telemetry.LogFromContext(c.Request.Context()).WithError(err).Debug("Response cache write failed")
		}
	}
}

func responseKey(c *gin.Context) string {
	h := sha256.New()
	h.Write([]byte(c.Request.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(c.Request.URL.RawQuery))
	h.Write([]byte{0})
	h.Write([]byte(UserID(c)))
	return hex.EncodeToString(h.Sum(nil))
}
