package jobs

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/internal/telemetry"
	"github.com/heraldhq/herald/internal/translation"
)

type fakeOpsAPI struct {
	queueFn       func(ctx context.Context, limit int) (*notification.QueueReport, error)
	replayFn      func(ctx context.Context, limit int) (int64, error)
	digestFn      func(ctx context.Context, freq notification.Frequency, limit int) (*notification.DigestReport, error)
	automationFn  func(ctx context.Context, batchSize, concurrency int) (*notification.AutomationReport, error)
	translationFn func(ctx context.Context, limit int) (*translation.ProcessReport, error)
}

func (f *fakeOpsAPI) ProcessQueue(ctx context.Context, limit int) (*notification.QueueReport, error) {
	if f.queueFn != nil {
		return f.queueFn(ctx, limit)
	}
	return &notification.QueueReport{}, nil
}

func (f *fakeOpsAPI) ReplayFailed(ctx context.Context, limit int) (int64, error) {
	if f.replayFn != nil {
		return f.replayFn(ctx, limit)
	}
	return 0, nil
}

func (f *fakeOpsAPI) ProcessDigest(ctx context.Context, freq notification.Frequency, limit int) (*notification.DigestReport, error) {
	if f.digestFn != nil {
		return f.digestFn(ctx, freq, limit)
	}
	return &notification.DigestReport{Frequency: freq}, nil
}

func (f *fakeOpsAPI) ProcessAutomation(ctx context.Context, batchSize, concurrency int) (*notification.AutomationReport, error) {
	if f.automationFn != nil {
		return f.automationFn(ctx, batchSize, concurrency)
	}
	return &notification.AutomationReport{}, nil
}

func (f *fakeOpsAPI) ProcessTranslationQueue(ctx context.Context, limit int) (*translation.ProcessReport, error) {
	if f.translationFn != nil {
		return f.translationFn(ctx, limit)
	}
	return &translation.ProcessReport{}, nil
}

func newTestHandlers(t *testing.T, api OpsAPI, tuning Tuning) *Handlers {
	t.Helper()

	logger, err := telemetry.NewLogger(&telemetry.LogConfig{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	logger.SetOutput(io.Discard)

	return NewHandlers(api, tuning, logger)
}

func TestQueueDrainUsesTunedLimit(t *testing.T) {
	var gotLimit int
	api := &fakeOpsAPI{queueFn: func(_ context.Context, limit int) (*notification.QueueReport, error) {
		gotLimit = limit
		return &notification.QueueReport{Claimed: 3, Completed: 3}, nil
	}}
	h := newTestHandlers(t, api, Tuning{QueueDrainLimit: 250})

	err := h.HandleQueueDrain(context.Background(), asynq.NewTask(TypeQueueDrain, nil))

	require.NoError(t, err)
	assert.Equal(t, 250, gotLimit)
}

func TestQueueDrainSwallowsAPIError(t *testing.T) {
	api := &fakeOpsAPI{queueFn: func(context.Context, int) (*notification.QueueReport, error) {
		return nil, errors.New("api unreachable")
	}}
	h := newTestHandlers(t, api, Tuning{QueueDrainLimit: 100})

	err := h.HandleQueueDrain(context.Background(), asynq.NewTask(TypeQueueDrain, nil))

	assert.NoError(t, err, "periodic tasks rerun on schedule; a retry would double up with the next tick")
}

func TestQueueReplayUsesTunedLimit(t *testing.T) {
	var gotLimit int
	api := &fakeOpsAPI{replayFn: func(_ context.Context, limit int) (int64, error) {
		gotLimit = limit
		return 2, nil
	}}
	h := newTestHandlers(t, api, Tuning{ReplayLimit: 40})

	err := h.HandleQueueReplay(context.Background(), asynq.NewTask(TypeQueueReplay, nil))

	require.NoError(t, err)
	assert.Equal(t, 40, gotLimit)
}

func TestDigestHandlerPassesFrequency(t *testing.T) {
	var gotFreq notification.Frequency
	var gotLimit int
	api := &fakeOpsAPI{digestFn: func(_ context.Context, freq notification.Frequency, limit int) (*notification.DigestReport, error) {
		gotFreq = freq
		gotLimit = limit
		return &notification.DigestReport{Frequency: freq, Sent: 1}, nil
	}}
	h := newTestHandlers(t, api, Tuning{DigestLimit: 750})

	handle := h.DigestHandler(notification.FrequencyWeekly)
	err := handle(context.Background(), asynq.NewTask(TypeDigestWeekly, nil))

	require.NoError(t, err)
	assert.Equal(t, notification.FrequencyWeekly, gotFreq)
	assert.Equal(t, 750, gotLimit)
}

func TestDigestHandlerSwallowsAPIError(t *testing.T) {
	api := &fakeOpsAPI{digestFn: func(context.Context, notification.Frequency, int) (*notification.DigestReport, error) {
		return nil, errors.New("boom")
	}}
	h := newTestHandlers(t, api, Tuning{DigestLimit: 500})

	err := h.DigestHandler(notification.FrequencyHourly)(context.Background(), asynq.NewTask(TypeDigestHourly, nil))

	assert.NoError(t, err)
}

func TestAutomationDrainUsesTuning(t *testing.T) {
	var gotBatch, gotConcurrency int
	api := &fakeOpsAPI{automationFn: func(_ context.Context, batch, concurrency int) (*notification.AutomationReport, error) {
		gotBatch = batch
		gotConcurrency = concurrency
		return &notification.AutomationReport{}, nil
	}}
	h := newTestHandlers(t, api, Tuning{AutomationBatch: 80, AutomationConcurrency: 8})

	err := h.HandleAutomationDrain(context.Background(), asynq.NewTask(TypeAutomationDrain, nil))

	require.NoError(t, err)
	assert.Equal(t, 80, gotBatch)
	assert.Equal(t, 8, gotConcurrency)
}

func TestTranslationDrainUsesTunedLimit(t *testing.T) {
	var gotLimit int
	api := &fakeOpsAPI{translationFn: func(_ context.Context, limit int) (*translation.ProcessReport, error) {
		gotLimit = limit
		return &translation.ProcessReport{Claimed: 5, Completed: 5}, nil
	}}
	h := newTestHandlers(t, api, Tuning{TranslationLimit: 60})

	err := h.HandleTranslationDrain(context.Background(), asynq.NewTask(TypeTranslationDrain, nil))

	require.NoError(t, err)
	assert.Equal(t, 60, gotLimit)
}

func TestTranslationDrainSwallowsAPIError(t *testing.T) {
	api := &fakeOpsAPI{translationFn: func(context.Context, int) (*translation.ProcessReport, error) {
		return nil, errors.New("redis gone")
	}}
	h := newTestHandlers(t, api, Tuning{TranslationLimit: 50})

	err := h.HandleTranslationDrain(context.Background(), asynq.NewTask(TypeTranslationDrain, nil))

	assert.NoError(t, err)
}
