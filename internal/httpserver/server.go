// Package httpserver exposes the notification and translation services over
// HTTP. Routes split into three surfaces: public (health probes, provider
// webhooks), user (JWT-authenticated product traffic), and ops
// (cron-secret-guarded batch processors).
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/middleware"
	"github.com/heraldhq/herald/internal/monitoring"
	"github.com/heraldhq/herald/internal/telemetry"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 60 * time.Second
	idleTimeout     = 90 * time.Second
	shutdownTimeout = 20 * time.Second

	statsCacheTTL = time.Minute
)

// Deps carries everything the server needs. The notification facets are
// usually all the same orchestrator; they are separate fields so tests can
// fake one surface without implementing the rest.
type Deps struct {
	Config config.Config
	Logger *telemetry.Logger
	Redis  *cache.Redis
	Health *monitoring.HealthChecker

	Dispatcher  Dispatcher
	Preferences PreferenceService
	Inbox       InboxService
	Ops         OpsService
	Webhooks    WebhookService

	Translator       Translator
	TranslationQueue TranslationQueue
}

// Server wraps a gin engine and the underlying http.Server.
type Server struct {
	cfg    config.Config
	logger *telemetry.Logger
	engine *gin.Engine
	http   *http.Server

	health *monitoring.HealthChecker
	redis  *cache.Redis

	dispatcher  Dispatcher
	preferences PreferenceService
	inbox       InboxService
	ops         OpsService
	webhooks    WebhookService

	translator       Translator
	translationQueue TranslationQueue
}

// New builds the router and binds all routes. It does not listen yet;
// call Start.
func New(deps Deps) *Server {
	if deps.Config.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:              deps.Config,
		logger:           deps.Logger,
		health:           deps.Health,
		redis:            deps.Redis,
		dispatcher:       deps.Dispatcher,
		preferences:      deps.Preferences,
		inbox:            deps.Inbox,
		ops:              deps.Ops,
		webhooks:         deps.Webhooks,
		translator:       deps.Translator,
		translationQueue: deps.TranslationQueue,
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(deps.Logger),
		middleware.Correlation(),
		middleware.RequestLogger(deps.Logger, middleware.DefaultLoggingConfig()),
		otelgin.Middleware("herald-api"),
	)
	if deps.Config.SentryDSN != "" {
		// Repanic so our own Recovery still renders the 500.
		engine.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}

	s.engine = engine
	s.routes()

	s.http = &http.Server{
		Addr:         deps.Config.HTTPAddr,
		Handler:      engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

func (s *Server) routes() {
	r := s.engine

	// Public surface.
	if s.health != nil {
		r.GET("/health", s.health.Handler())
		r.GET("/health/live", s.health.LiveHandler())
		r.GET("/health/ready", s.health.ReadyHandler())
	}
	r.POST("/webhook/:provider", s.handleWebhook)

	// User surface.
	user := r.Group("/", middleware.Auth(s.cfg.JWTSecret))

	send := user.Group("/", middleware.RateLimit(sendBurst(), sendRefill()))
	send.POST("/send", s.handleSend)
	send.POST("/send/batch", s.handleSendBatch)
	send.POST("/send/template", s.handleSendTemplate)

	user.GET("/preferences", s.handleGetPreferences)
	user.PUT("/preferences", s.handleUpdatePreferences)
	user.POST("/preferences/dnd", s.handleSetDnd)
	user.DELETE("/preferences/dnd", s.handleClearDnd)

	user.POST("/devices", s.handleRegisterDevice)
	user.DELETE("/devices/:token", s.handleRemoveDevice)

	user.GET("/notifications", s.handleInbox)
	user.POST("/notifications/:id/read", s.handleMarkRead)

	user.POST("/translate", s.handleTranslate)
	user.POST("/batch-translate", s.handleBatchTranslate)
	user.GET("/translate/health", s.handleTranslateHealth)

	if s.redis != nil {
		user.GET("/stats", middleware.ResponseCache(s.redis, statsCacheTTL), s.handleStats)
	} else {
		user.GET("/stats", s.handleStats)
	}

	// Ops surface: batch processors triggered by the scheduler.
	ops := r.Group("/", middleware.CronAuth(s.cfg.CronSecret))
	ops.POST("/queue/process", s.handleProcessQueue)
	ops.POST("/queue/replay", s.handleReplayQueue)
	ops.POST("/digest/process", s.handleProcessDigest)
	ops.POST("/automation/process", s.handleProcessAutomation)
	ops.POST("/translate/process-queue", s.handleProcessTranslationQueue)
}

func sendBurst() int {
	return config.EnvInt("SEND_RATE_BURST", 30)
}

func sendRefill() time.Duration {
	return config.EnvDuration("SEND_RATE_REFILL_SECONDS", time.Second)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.http.Addr).Info("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
