// Package jobs runs the scheduled background work: draining the durable
// notification queue, flushing digests, working off the automation and
// translation backlogs. Tasks are scheduled and executed through asynq and
// call back into the API's operational endpoints, so the worker binary
// needs no database of its own.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/notification"
	"github.com/heraldhq/herald/internal/translation"
)

// OpsAPI is the slice of the API surface the task handlers drive.
type OpsAPI interface {
	ProcessQueue(ctx context.Context, limit int) (*notification.QueueReport, error)
	ReplayFailed(ctx context.Context, limit int) (int64, error)
	ProcessDigest(ctx context.Context, freq notification.Frequency, limit int) (*notification.DigestReport, error)
	ProcessAutomation(ctx context.Context, batchSize, concurrency int) (*notification.AutomationReport, error)
	ProcessTranslationQueue(ctx context.Context, limit int) (*translation.ProcessReport, error)
}

// APIClient calls the cron-authenticated operational endpoints.
type APIClient struct {
	baseURL    string
	cronSecret string
	client     *http.Client
}

// NewAPIClient builds a client for the API at baseURL. The secret goes out
// as X-Cron-Secret on every request.
func NewAPIClient(baseURL, cronSecret string) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		cronSecret: cronSecret,
		client:     &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *APIClient) ProcessQueue(ctx context.Context, limit int) (*notification.QueueReport, error) {
	var report notification.QueueReport
	if err := c.post(ctx, "/queue/process", map[string]any{"limit": limit}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *APIClient) ReplayFailed(ctx context.Context, limit int) (int64, error) {
	var resp struct {
		Requeued int64 `json:"requeued"`
	}
	if err := c.post(ctx, "/queue/replay", map[string]any{"limit": limit}, &resp); err != nil {
		return 0, err
	}
	return resp.Requeued, nil
}

func (c *APIClient) ProcessDigest(ctx context.Context, freq notification.Frequency, limit int) (*notification.DigestReport, error) {
	var report notification.DigestReport
	body := map[string]any{"frequency": string(freq), "limit": limit}
	if err := c.post(ctx, "/digest/process", body, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *APIClient) ProcessAutomation(ctx context.Context, batchSize, concurrency int) (*notification.AutomationReport, error) {
	var report notification.AutomationReport
	body := map[string]any{"batchSize": batchSize, "concurrency": concurrency}
	if err := c.post(ctx, "/automation/process", body, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *APIClient) ProcessTranslationQueue(ctx context.Context, limit int) (*translation.ProcessReport, error) {
	var report translation.ProcessReport
	if err := c.post(ctx, "/translate/process-queue", map[string]any{"limit": limit}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *APIClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cron-Secret", c.cronSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(path, resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeAPIError recovers the AppError the API rendered so retryability
// survives the HTTP hop.
func decodeAPIError(path string, status int, payload []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error.Code != "" {
		return apperrors.New(apperrors.Code(envelope.Error.Code), envelope.Error.Message)
	}
	return apperrors.New(apperrors.CodeInternal, fmt.Sprintf("%s returned status %d", path, status))
}
