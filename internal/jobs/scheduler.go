package jobs

import (
	"os"

	"github.com/hibiken/asynq"
)

// Task type identifiers.
const (
	TypeQueueDrain       = "herald:queue_drain"
	TypeQueueReplay      = "herald:queue_replay"
	TypeDigestHourly     = "herald:digest_hourly"
	TypeDigestDaily      = "herald:digest_daily"
	TypeDigestWeekly     = "herald:digest_weekly"
	TypeAutomationDrain  = "herald:automation_drain"
	TypeTranslationDrain = "herald:translation_drain"
)

// Queue names, highest priority first.
const (
	queueCritical = "critical"
	queueDefault  = "default"
	queueLow      = "low"
)

// Schedules holds the cron expressions for every periodic task.
type Schedules struct {
	QueueDrain       string
	QueueReplay      string
	DigestHourly     string
	DigestDaily      string
	DigestWeekly     string
	AutomationDrain  string
	TranslationDrain string
}

// LoadSchedules reads cron expressions from the environment. Defaults:
// queue drain every minute, digests at five past their period boundary,
// automation every two minutes, translation backlog every five, failed-item
// replay every thirty.
func LoadSchedules() Schedules {
	return Schedules{
		QueueDrain:       envOr("QUEUE_DRAIN_SCHEDULE", "* * * * *"),
		QueueReplay:      envOr("QUEUE_REPLAY_SCHEDULE", "*/30 * * * *"),
		DigestHourly:     envOr("DIGEST_HOURLY_SCHEDULE", "5 * * * *"),
		DigestDaily:      envOr("DIGEST_DAILY_SCHEDULE", "5 8 * * *"),
		DigestWeekly:     envOr("DIGEST_WEEKLY_SCHEDULE", "5 8 * * 1"),
		AutomationDrain:  envOr("AUTOMATION_DRAIN_SCHEDULE", "*/2 * * * *"),
		TranslationDrain: envOr("TRANSLATION_DRAIN_SCHEDULE", "*/5 * * * *"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Scheduler enqueues the periodic tasks. It holds no handler logic; the
// Worker picks the tasks up from Redis.
type Scheduler struct {
	scheduler *asynq.Scheduler
}

// NewScheduler registers every periodic task against its cron entry. The
// queue drain rides the critical queue since it carries user-visible
// notifications; digests ride low.
func NewScheduler(redisURL string, schedules Schedules) (*Scheduler, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(redisOpt, nil)

	entries := []struct {
		cron  string
		task  string
		queue string
	}{
		{schedules.QueueDrain, TypeQueueDrain, queueCritical},
		{schedules.QueueReplay, TypeQueueReplay, queueDefault},
		{schedules.DigestHourly, TypeDigestHourly, queueLow},
		{schedules.DigestDaily, TypeDigestDaily, queueLow},
		{schedules.DigestWeekly, TypeDigestWeekly, queueLow},
		{schedules.AutomationDrain, TypeAutomationDrain, queueDefault},
		{schedules.TranslationDrain, TypeTranslationDrain, queueDefault},
	}
	for _, e := range entries {
		if _, err := scheduler.Register(e.cron, asynq.NewTask(e.task, nil), asynq.Queue(e.queue)); err != nil {
			return nil, err
		}
	}

	return &Scheduler{scheduler: scheduler}, nil
}

// Run blocks until Shutdown.
func (s *Scheduler) Run() error {
	return s.scheduler.Run()
}

// Shutdown stops enqueueing new tasks.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
