// Package main boots the Herald API: the HTTP surface plus the channel
// senders, translation stack, quotas, circuits, and health probes behind it.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/database"
	"github.com/heraldhq/herald/internal/httpserver"
	"github.com/heraldhq/herald/internal/monitoring"
	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/internal/quota"
	"github.com/heraldhq/herald/internal/resilience"
	"github.com/heraldhq/herald/internal/sender"
	sentrypkg "github.com/heraldhq/herald/internal/sentry"
	"github.com/heraldhq/herald/internal/telemetry"
	"github.com/heraldhq/herald/internal/translation"
)

func main() {
	// .env is a local-dev convenience; deployments inject real env vars.
	_ = godotenv.Load()

	cfg := config.Load()

	if err := telemetry.InitGlobalLogger(&telemetry.LogConfig{
		Level:  cfg.LogLevel,
		Format: "json",
		Output: "stdout",
	}); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	logger := telemetry.GetGlobalLogger()
	boot := logger.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("configuration error: %v", err)
	}

	if err := sentrypkg.Init(cfg); err != nil {
		boot.WithError(err).Warn("Sentry init failed, error reporting disabled")
	}
	defer sentrypkg.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := telemetry.Initialize(ctx, telemetry.LoadOTelConfig("herald-api"))
	if err != nil {
		boot.WithError(err).Warn("OpenTelemetry init failed, tracing disabled")
	} else {
		defer shutdownOTel()
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			boot.WithError(err).Error("failed to close database")
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("migrations: %v", err)
	}

	// Redis is optional: without it response caching, the remote translation
	// cache tier, and realtime inbox fan-out are disabled, nothing else.
	redis, err := cache.New(cfg.RedisURL)
	if err != nil {
		boot.WithError(err).Warn("Redis unavailable, caching and realtime fan-out disabled")
		redis = nil
	} else {
		defer redis.Close()
	}

	alerts := monitoring.NewAlertManager(logger.WithComponent("alerting"))
	if cfg.Alerting.WebhookURL != "" {
		alerts.AddSink(monitoring.NewWebhookSink(cfg.Alerting.WebhookURL))
	}
	if cfg.Alerting.SlackWebhookURL != "" {
		alerts.AddSink(monitoring.NewSlackSink(cfg.Alerting.SlackWebhookURL))
	}
	if cfg.Alerting.TelegramBotToken != "" && cfg.Alerting.TelegramChatID != "" {
		alerts.AddSink(monitoring.NewTelegramSink(cfg.Alerting.TelegramBotToken, cfg.Alerting.TelegramChatID))
	}

	circuits := resilience.NewCircuitManager(resilience.DefaultCircuitConfig(), logger.WithComponent("resilience"))
	circuits.SetStateListener(alerts.CircuitTransition)
	retry := resilience.DefaultRetryConfig(resilience.DefaultRetryBudget())

	emailQuota, err := quota.NewManager(db, quota.TableEmail, cfg.Email.MonthlyQuota, logger.WithComponent("quota"))
	if err != nil {
		logger.Fatalf("email quota: %v", err)
	}
	emailQuota.SetExhaustionListener(alerts.QuotaExhausted)

	translationQuota, err := quota.NewManager(db, quota.TableTranslation, cfg.Translation.MonthlyCharLimit, logger.WithComponent("quota"))
	if err != nil {
		logger.Fatalf("translation quota: %v", err)
	}
	translationQuota.SetExhaustionListener(alerts.QuotaExhausted)

	repo := notification.NewPostgresRepository(db.DB)

	orchestrator := notification.NewOrchestrator(repo, notification.LoadConfig(), logger.WithComponent("notification"))
	pushNames, emailNames := registerSenders(cfg, orchestrator, repo, redis, circuits, retry, emailQuota, logger, boot)

	translationStore := translation.NewPostgresStore(db.DB)
	translationProviders := translation.Providers(cfg.Translation)
	engine := translation.NewEngine(
		translationProviders,
		translation.NewCache(redis, logger.WithComponent("translation")),
		translationStore,
		circuits,
		translationQuota,
		retry,
		logger.WithComponent("translation"),
	)
	translationProcessor := translation.NewProcessor(engine, translationStore, logger.WithComponent("translation"))

	health := monitoring.NewHealthChecker(cfg.Version, alerts)
	health.RegisterDatabase("postgres", db)
	if redis != nil {
		health.RegisterRedis("redis", redis)
	}
	health.RegisterProviders(circuits, nil, pushNames...)
	health.RegisterProviders(circuits, emailQuota, emailNames...)
	translationNames := make([]string, 0, len(translationProviders))
	for _, p := range translationProviders {
		translationNames = append(translationNames, p.Name())
	}
	health.RegisterProviders(circuits, translationQuota, translationNames...)

	srv := httpserver.New(httpserver.Deps{
		Config: cfg,
		Logger: logger,
		Redis:  redis,
		Health: health,

		Dispatcher:  orchestrator,
		Preferences: orchestrator,
		Inbox:       orchestrator,
		Ops:         orchestrator,
		Webhooks:    orchestrator,

		Translator:       engine,
		TranslationQueue: translationProcessor,
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := srv.Start(); err != nil {
			if groupCtx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			boot.WithError(err).Error("HTTP shutdown error")
		}
		alerts.Flush()
		boot.Info("Graceful shutdown completed")
		return nil
	})

	if err := group.Wait(); err != nil {
		boot.WithError(err).Error("server error")
		os.Exit(1)
	}
}

// registerSenders wires every channel whose credentials are present. An
// unconfigured channel stays unregistered, so sends to it settle as
// channel_not_configured instead of failing mid-delivery. It returns the
// provider names it registered so the health checker can track them.
func registerSenders(
	cfg config.Config,
	orchestrator *notification.Orchestrator,
	repo *notification.PostgresRepository,
	redis *cache.Redis,
	circuits *resilience.CircuitManager,
	retry resilience.RetryConfig,
	emailQuota *quota.Manager,
	logger *telemetry.Logger,
	boot *telemetry.ContextualLogger,
) (pushNames, emailNames []string) {
	var apns, fcm, webPush sender.PlatformClient

	if cfg.APNS.Configured() {
		client, err := sender.NewAPNSClient(cfg.APNS, "")
		if err != nil {
			boot.WithError(err).Warn("APNs disabled, signing key rejected")
		} else {
			apns = client
			pushNames = append(pushNames, client.Name())
		}
	}
	if cfg.FCM.Configured() {
		client, err := sender.NewFCMClient(cfg.FCM, "", "")
		if err != nil {
			boot.WithError(err).Warn("FCM disabled, service account rejected")
		} else {
			fcm = client
			pushNames = append(pushNames, client.Name())
		}
	}
	if cfg.VAPID.Configured() {
		client := sender.NewWebPushClient(cfg.VAPID)
		webPush = client
		pushNames = append(pushNames, client.Name())
	}

	if apns != nil || fcm != nil || webPush != nil {
		orchestrator.RegisterSender(sender.NewPushSender(apns, fcm, webPush, circuits, retry, logger.WithComponent("push")))
	} else {
		boot.Info("No push platform configured, push channel disabled")
	}

	var providers []sender.EmailProvider
	if cfg.Email.ResendAPIKey != "" {
		providers = append(providers, sender.NewResendProvider(sender.ResendConfig{
			APIKey: cfg.Email.ResendAPIKey,
			From:   cfg.Email.From,
		}))
	}
	if cfg.Email.SendGridAPIKey != "" {
		providers = append(providers, sender.NewSendGridProvider(sender.SendGridConfig{
			APIKey: cfg.Email.SendGridAPIKey,
			From:   cfg.Email.From,
		}))
	}
	if cfg.Email.PostmarkServerToken != "" {
		providers = append(providers, sender.NewPostmarkProvider(sender.PostmarkConfig{
			ServerToken: cfg.Email.PostmarkServerToken,
			From:        cfg.Email.From,
		}))
	}
	if cfg.Email.AWSAccessKeyID != "" && cfg.Email.AWSSecretAccessKey != "" {
		providers = append(providers, sender.NewSESProvider(sender.SESConfig{
			Region:          cfg.Email.AWSRegion,
			AccessKeyID:     cfg.Email.AWSAccessKeyID,
			SecretAccessKey: cfg.Email.AWSSecretAccessKey,
			From:            cfg.Email.From,
		}))
	}

	if len(providers) > 0 {
		orchestrator.RegisterSender(sender.NewEmailSender(providers, repo, circuits, emailQuota, retry, logger.WithComponent("email")))
		for _, p := range providers {
			emailNames = append(emailNames, p.Name())
		}
	} else {
		boot.Info("No email provider configured, email channel disabled")
	}

	// In-app always works: the inbox row is the delivery. The realtime
	// publish rides Redis when it is up.
	var pubsub sender.Publisher
	if redis != nil {
		pubsub = redis
	}
	orchestrator.RegisterSender(sender.NewInAppSender(repo, pubsub, logger.WithComponent("inapp")))

	return pushNames, emailNames
}
