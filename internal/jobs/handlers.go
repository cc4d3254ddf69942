package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/internal/sentry"
	"github.com/heraldhq/herald/internal/telemetry"
)

// Tuning bounds each periodic pass. Every knob has an env override so a
// backed-up queue can be drained harder without a deploy.
type Tuning struct {
	QueueDrainLimit       int
	ReplayLimit           int
	DigestLimit           int
	AutomationBatch       int
	AutomationConcurrency int
	TranslationLimit      int
}

// LoadTuning reads the batch limits from the environment.
func LoadTuning() Tuning {
	return Tuning{
		QueueDrainLimit:       config.EnvInt("QUEUE_DRAIN_LIMIT", 100),
		ReplayLimit:           config.EnvInt("QUEUE_REPLAY_LIMIT", 100),
		DigestLimit:           config.EnvInt("DIGEST_LIMIT", 500),
		AutomationBatch:       config.EnvInt("AUTOMATION_BATCH_SIZE", 50),
		AutomationConcurrency: config.EnvInt("AUTOMATION_CONCURRENCY", 4),
		TranslationLimit:      config.EnvInt("TRANSLATION_DRAIN_LIMIT", 50),
	}
}

// Handlers executes the periodic tasks against the ops API. Failures are
// logged and reported, not returned: every task reruns on its own schedule,
// so an asynq-level retry would only double up with the next tick.
type Handlers struct {
	api    OpsAPI
	tuning Tuning
	logger *telemetry.ContextualLogger
}

func NewHandlers(api OpsAPI, tuning Tuning, logger *telemetry.Logger) *Handlers {
	return &Handlers{
		api:    api,
		tuning: tuning,
		logger: logger.WithComponent("jobs"),
	}
}

func (h *Handlers) HandleQueueDrain(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	report, err := h.api.ProcessQueue(ctx, h.tuning.QueueDrainLimit)
	if err != nil {
		h.fail(TypeQueueDrain, err)
		return nil
	}

	h.logger.WithFields(logrus.Fields{
		"task":        TypeQueueDrain,
		"claimed":     report.Claimed,
		"completed":   report.Completed,
		"retried":     report.Retried,
		"failed":      report.Failed,
		"stuck_reset": report.StuckReset,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("queue drain finished")
	return nil
}

func (h *Handlers) HandleQueueReplay(ctx context.Context, _ *asynq.Task) error {
	requeued, err := h.api.ReplayFailed(ctx, h.tuning.ReplayLimit)
	if err != nil {
		h.fail(TypeQueueReplay, err)
		return nil
	}

	if requeued > 0 {
		h.logger.WithFields(logrus.Fields{
			"task":     TypeQueueReplay,
			"requeued": requeued,
		}).Info("failed items requeued")
	}
	return nil
}

// DigestHandler returns the handler for one digest cadence. The three
// cadences share everything but the frequency they pass along.
func (h *Handlers) DigestHandler(freq notification.Frequency) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		start := time.Now()
		report, err := h.api.ProcessDigest(ctx, freq, h.tuning.DigestLimit)
		if err != nil {
			h.fail("herald:digest_"+string(freq), err)
			return nil
		}

		h.logger.WithFields(logrus.Fields{
			"task":        "herald:digest_" + string(freq),
			"claimed":     report.Claimed,
			"users":       report.Users,
			"sent":        report.Sent,
			"failed":      report.Failed,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("digest pass finished")
		return nil
	}
}

func (h *Handlers) HandleAutomationDrain(ctx context.Context, _ *asynq.Task) error {
	report, err := h.api.ProcessAutomation(ctx, h.tuning.AutomationBatch, h.tuning.AutomationConcurrency)
	if err != nil {
		h.fail(TypeAutomationDrain, err)
		return nil
	}

	if report.Claimed > 0 {
		h.logger.WithFields(logrus.Fields{
			"task":       TypeAutomationDrain,
			"claimed":    report.Claimed,
			"sent":       report.Sent,
			"suppressed": report.Suppressed,
			"failed":     report.Failed,
		}).Info("automation pass finished")
	}
	return nil
}

func (h *Handlers) HandleTranslationDrain(ctx context.Context, _ *asynq.Task) error {
	report, err := h.api.ProcessTranslationQueue(ctx, h.tuning.TranslationLimit)
	if err != nil {
		h.fail(TypeTranslationDrain, err)
		return nil
	}

	if report.Claimed > 0 || report.Recovered > 0 {
		h.logger.WithFields(logrus.Fields{
			"task":      TypeTranslationDrain,
			"recovered": report.Recovered,
			"claimed":   report.Claimed,
			"completed": report.Completed,
			"requeued":  report.Requeued,
			"failed":    report.Failed,
		}).Info("translation drain finished")
	}
	return nil
}

func (h *Handlers) fail(task string, err error) {
	h.logger.WithError(err).WithField("task", task).Error("task run failed")
	sentry.CaptureError(err, map[string]string{"task": task}, nil)
}
