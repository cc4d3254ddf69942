package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/database"
	"github.com/heraldhq/herald/internal/quota"
	"github.com/heraldhq/herald/internal/resilience"
)

// Status is the tri-state health of a component or the service as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ServiceHealth is one entry in the health report's services map.
type ServiceHealth struct {
	Status       Status     `json:"status"`
	CircuitState string     `json:"circuit_state,omitempty"`
	QuotaPercent *float64   `json:"quota_percent,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LatencyMS    *int64     `json:"latency_ms,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// HealthReport is the health endpoint response body.
type HealthReport struct {
	Status    Status                   `json:"status"`
	Version   string                   `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Services  map[string]ServiceHealth `json:"services"`
	Alerts    []Alert                  `json:"alerts"`
}

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) ServiceHealth

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// HealthChecker runs registered component probes and aggregates them into a
// single report. Critical components (database, redis) drag the overall
// status to unhealthy when they fail; a failing provider only degrades it,
// since delivery can fail over to its siblings.
type HealthChecker struct {
	mu        sync.Mutex
	version   string
	startTime time.Time
	checks    map[string]registeredCheck
	alerts    *AlertManager

	// Reports are cached briefly so aggressive orchestrator probes do not
	// turn into database and redis traffic.
	cacheTTL time.Duration
	cachedAt time.Time
	cached   HealthReport

	now func() time.Time
}

// NewHealthChecker creates a checker with no registered probes. alerts may
// be nil; the report then carries an empty alerts list.
func NewHealthChecker(version string, alerts *AlertManager) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]registeredCheck),
		alerts:    alerts,
		cacheTTL:  10 * time.Second,
		now:       time.Now,
	}
}

// RegisterCheck adds a custom non-critical probe under name.
func (hc *HealthChecker) RegisterCheck(name string, fn CheckFunc) {
	hc.register(name, false, fn)
}

// RegisterCriticalCheck adds a probe whose failure makes the whole service
// unhealthy.
func (hc *HealthChecker) RegisterCriticalCheck(name string, fn CheckFunc) {
	hc.register(name, true, fn)
}

// RegisterDatabase adds a critical probe that pings the database.
func (hc *HealthChecker) RegisterDatabase(name string, db *database.DB) {
	hc.register(name, true, func(ctx context.Context) ServiceHealth {
		start := time.Now()
		err := db.Health(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ServiceHealth{
				Status:    StatusUnhealthy,
				LatencyMS: &latency,
				Message:   fmt.Sprintf("database ping failed: %v", err),
			}
		}

		status := StatusHealthy
		if latency > 1000 {
			status = StatusDegraded
		}
		return ServiceHealth{Status: status, LatencyMS: &latency}
	})
}

// RegisterRedis adds a critical probe that pings Redis.
func (hc *HealthChecker) RegisterRedis(name string, redis *cache.Redis) {
	hc.register(name, true, func(ctx context.Context) ServiceHealth {
		start := time.Now()
		err := redis.Health(ctx)
		latency := time.Since(start).Milliseconds()

		if err != nil {
			return ServiceHealth{
				Status:    StatusUnhealthy,
				LatencyMS: &latency,
				Message:   fmt.Sprintf("redis ping failed: %v", err),
			}
		}

		status := StatusHealthy
		if latency > 500 {
			status = StatusDegraded
		}
		return ServiceHealth{Status: status, LatencyMS: &latency}
	})
}

// RegisterProviders adds one non-critical probe per provider, reporting its
// breaker state, quota consumption, and last successful call. quotas may be
// nil for provider groups without quota accounting.
func (hc *HealthChecker) RegisterProviders(circuits *resilience.CircuitManager, quotas *quota.Manager, providers ...string) {
	for _, provider := range providers {
		name := provider
		hc.register(name, false, func(ctx context.Context) ServiceHealth {
			sh := ServiceHealth{Status: StatusHealthy, CircuitState: circuits.State(name)}

			switch sh.CircuitState {
			case "open":
				sh.Status = StatusUnhealthy
				sh.Message = "circuit open"
			case "half_open":
				sh.Status = StatusDegraded
				sh.Message = "circuit probing recovery"
			}

			if snap, ok := circuits.Snapshot()[name]; ok && !snap.LastSuccess.IsZero() {
				last := snap.LastSuccess
				sh.LastSuccess = &last
			}

			if quotas != nil {
				pct := quotas.UsagePercent(ctx, name)
				sh.QuotaPercent = &pct
				if quotas.IsExhausted(name) {
					if sh.Status == StatusHealthy {
						sh.Status = StatusDegraded
					}
					if sh.Message == "" {
						sh.Message = "quota exhausted"
					}
				}
			}

			return sh
		})
	}
}

func (hc *HealthChecker) register(name string, critical bool, fn CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = registeredCheck{fn: fn, critical: critical}
	hc.cachedAt = time.Time{}
}

// Report runs all probes (or serves the cached result) and returns the
// aggregate. Alerts are always read fresh.
func (hc *HealthChecker) Report(ctx context.Context) HealthReport {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	now := hc.now()
	if hc.cached.Services != nil && now.Sub(hc.cachedAt) < hc.cacheTTL {
		report := hc.cached
		report.Alerts = hc.activeAlerts()
		return report
	}

	services := make(map[string]ServiceHealth, len(hc.checks))
	status := StatusHealthy
	for name, check := range hc.checks {
		sh := check.fn(ctx)
		services[name] = sh

		switch sh.Status {
		case StatusUnhealthy:
			if check.critical {
				status = StatusUnhealthy
			} else if status != StatusUnhealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}

	report := HealthReport{
		Status:    status,
		Version:   hc.version,
		Timestamp: now,
		Uptime:    now.Sub(hc.startTime).Round(time.Second).String(),
		Services:  services,
	}
	hc.cached = report
	hc.cachedAt = now

	report.Alerts = hc.activeAlerts()
	return report
}

func (hc *HealthChecker) activeAlerts() []Alert {
	if hc.alerts == nil {
		return []Alert{}
	}
	alerts := hc.alerts.Active()
	if alerts == nil {
		return []Alert{}
	}
	return alerts
}

// Handler serves the full health report. Degraded still answers 200 so load
// balancers keep routing while a provider subset misbehaves.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := hc.Report(c.Request.Context())

		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	}
}

// LiveHandler answers 200 whenever the process is up.
func (hc *HealthChecker) LiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": time.Since(hc.startTime).Round(time.Second).String(),
		})
	}
}

// ReadyHandler answers 503 while any critical component is down.
func (hc *HealthChecker) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := hc.Report(c.Request.Context())

		if report.Status == StatusUnhealthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
