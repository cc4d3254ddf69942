// Package main is the entry point for the Herald worker: an asynq scheduler
// and consumer pair that fires the API's batch processors on cron. It talks
// to the API over HTTP with the cron secret and needs no database of its own.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/jobs"
	"github.com/heraldhq/herald/internal/notification"
	sentrypkg "github.com/heraldhq/herald/internal/sentry"
	"github.com/heraldhq/herald/internal/telemetry"
)

func main() {
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

	if cfg.CronSecret == "" {
		logger.Fatal("CRON_SECRET is required")
	}

	if err := sentrypkg.Init(cfg); err != nil {
		boot.WithError(err).Warn("Sentry init failed, error reporting disabled")
	}
	defer sentrypkg.Flush(2 * time.Second)

	apiURL := os.Getenv("HERALD_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	api := jobs.NewAPIClient(apiURL, cfg.CronSecret)
	handlers := jobs.NewHandlers(api, jobs.LoadTuning(), logger)

	worker, err := jobs.NewWorker(cfg.RedisURL, config.EnvInt("WORKER_CONCURRENCY", 10), logger)
	if err != nil {
		logger.Fatalf("worker: %v", err)
	}
	worker.RegisterHandler(jobs.TypeQueueDrain, asynq.HandlerFunc(handlers.HandleQueueDrain))
	worker.RegisterHandler(jobs.TypeQueueReplay, asynq.HandlerFunc(handlers.HandleQueueReplay))
	worker.RegisterHandler(jobs.TypeDigestHourly, handlers.DigestHandler(notification.FrequencyHourly))
	worker.RegisterHandler(jobs.TypeDigestDaily, handlers.DigestHandler(notification.FrequencyDaily))
	worker.RegisterHandler(jobs.TypeDigestWeekly, handlers.DigestHandler(notification.FrequencyWeekly))
	worker.RegisterHandler(jobs.TypeAutomationDrain, asynq.HandlerFunc(handlers.HandleAutomationDrain))
	worker.RegisterHandler(jobs.TypeTranslationDrain, asynq.HandlerFunc(handlers.HandleTranslationDrain))

	scheduler, err := jobs.NewScheduler(cfg.RedisURL, jobs.LoadSchedules())
	if err != nil {
		logger.Fatalf("scheduler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		boot.WithField("api", apiURL).Info("Starting task scheduler")
		return scheduler.Run()
	})

	group.Go(func() error {
		boot.Info("Starting task worker")
		return worker.Run()
	})

	group.Go(func() error {
		<-groupCtx.Done()
		boot.Info("Shutting down worker service")
		scheduler.Shutdown()
		worker.Shutdown()
		return nil
	})

	if err := group.Wait(); err != nil {
		boot.WithError(err).Error("worker error")
		os.Exit(1)
	}
	boot.Info("Worker service stopped")
}
