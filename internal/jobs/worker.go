package jobs

import (
	"sync/atomic"

	"github.com/hibiken/asynq"

	"github.com/heraldhq/herald/internal/telemetry"
)

// Worker executes the scheduled tasks.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	isRunning atomic.Bool
}

// NewWorker builds the asynq server. Queue weights keep the per-minute
// queue drain ahead of digest flushes when the worker is saturated.
func NewWorker(redisURL string, concurrency int, logger *telemetry.Logger) (*Worker, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueCritical: 10,
			queueDefault:  6,
			queueLow:      1,
		},
		Logger: asynqLogger{log: logger},
	})

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}, nil
}

// RegisterHandler binds a task type to its handler.
func (w *Worker) RegisterHandler(taskType string, handler asynq.Handler) {
	w.mux.Handle(taskType, handler)
}

// Run blocks processing tasks until Shutdown.
func (w *Worker) Run() error {
	w.isRunning.Store(true)
	defer w.isRunning.Store(false)
	return w.server.Run(w.mux)
}

// Shutdown waits for in-flight tasks, then stops.
func (w *Worker) Shutdown() {
	w.isRunning.Store(false)
	w.server.Shutdown()
}

// IsHealthy reports whether the server loop is up.
func (w *Worker) IsHealthy() bool {
	return w.isRunning.Load()
}

// asynqLogger adapts the shared structured logger to asynq's interface.
type asynqLogger struct {
	log *telemetry.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(args...) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(args...) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(args...) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(args...) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(args...) }
