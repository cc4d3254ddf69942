package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/heraldhq/herald/internal/telemetry"
)

// LoggingConfig tunes the request logger.
type LoggingConfig struct {
	// SkipPaths are exact request paths that never log (probe endpoints).
	SkipPaths []string
}

// DefaultLoggingConfig skips the liveness/readiness probes, which would
// otherwise dominate the log volume.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		SkipPaths: []string{"/health/live", "/health/ready"},
	}
}

// RequestLogger writes one structured line per request with the latency,
// status, and caller identity. 5xx log as errors, 4xx as warnings.
func RequestLogger(logger *telemetry.Logger, config *LoggingConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultLoggingConfig()
	}
	skip := make(map[string]struct{}, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}
		if userID := UserID(c); userID != "" {
			fields["user_id"] = userID
		}

		entry := logger.WithContext(c.Request.Context()).WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request completed")
		}
	}
}
