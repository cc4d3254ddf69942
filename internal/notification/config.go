package notification

import (
	"os"
	"strconv"
	"time"
)

// Config holds orchestrator and queue-processor tuning. All values have
// defaults and can be overridden via environment variables.
type Config struct {
	// Per-channel dispatch deadlines.
	ChannelTimeout  time.Duration // Default: 15 seconds
	CriticalTimeout time.Duration // Default: 30 seconds

	// Batch send bound.
	MaxBatchSize int // Default: 1000

	// Durable queue retry cap and stuck-item recovery threshold.
	MaxQueueAttempts  int           // Default: 3
	ProcessingTimeout time.Duration // Default: 10 minutes

	// Digest rendering: per-category item cap before the overflow line.
	DigestMaxPerCategory int // Default: 5

	// Template cache freshness.
	TemplateCacheTTL time.Duration // Default: 5 minutes
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChannelTimeout:       15 * time.Second,
		CriticalTimeout:      30 * time.Second,
		MaxBatchSize:         1000,
		MaxQueueAttempts:     3,
		ProcessingTimeout:    10 * time.Minute,
		DigestMaxPerCategory: 5,
		TemplateCacheTTL:     5 * time.Minute,
	}
}

// LoadConfig loads configuration from environment variables.
// Environment variables:
//   - NOTIFY_CHANNEL_TIMEOUT_SECONDS: per-channel deadline (default: 15)
//   - NOTIFY_CRITICAL_TIMEOUT_SECONDS: deadline for critical priority (default: 30)
//   - NOTIFY_MAX_BATCH_SIZE: batch send bound (default: 1000)
//   - NOTIFY_MAX_QUEUE_ATTEMPTS: queue retry cap (default: 3)
//   - NOTIFY_PROCESSING_TIMEOUT_MINUTES: stuck-item threshold (default: 10)
//   - NOTIFY_DIGEST_MAX_PER_CATEGORY: digest section size (default: 5)
//   - NOTIFY_TEMPLATE_CACHE_SECONDS: template cache TTL (default: 300)
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("NOTIFY_CHANNEL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChannelTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("NOTIFY_CRITICAL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CriticalTimeout = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("NOTIFY_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBatchSize = n
		}
	}

	if v := os.Getenv("NOTIFY_MAX_QUEUE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxQueueAttempts = n
		}
	}

	if v := os.Getenv("NOTIFY_PROCESSING_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ProcessingTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("NOTIFY_DIGEST_MAX_PER_CATEGORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DigestMaxPerCategory = n
		}
	}

	if v := os.Getenv("NOTIFY_TEMPLATE_CACHE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TemplateCacheTTL = time.Duration(n) * time.Second
		}
	}

	return cfg
}
