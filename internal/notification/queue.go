package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// QueueReport summarizes one queue processing run.
type QueueReport struct {
	StuckReset int `json:"stuckReset"`
	Claimed    int `json:"claimed"`
	Completed  int `json:"completed"`
	Retried    int `json:"retried"`
	Failed     int `json:"failed"`
}

// ProcessQueue drains due scheduled notifications. Each claimed item
// re-enters the pipeline so preferences are evaluated at delivery time,
// not at enqueue time. Digest rows are never claimed here; they flush on
// their own cadence.
func (o *Orchestrator) ProcessQueue(ctx context.Context, limit int) (*QueueReport, error) {
	report := &QueueReport{}

	reset, err := o.repo.QueueResetStuck(ctx, o.now().Add(-o.config.ProcessingTimeout))
	if err != nil {
		o.log(ctx).WithError(err).Warn("failed to reset stuck queue items")
	} else {
		report.StuckReset = int(reset)
	}

	items, err := o.repo.QueueClaim(ctx, limit)
	if err != nil {
		return nil, apperrors.Internal("failed to claim queue items", err)
	}
	report.Claimed = len(items)

	for _, item := range items {
		o.processQueueItem(ctx, item, report)
	}

	o.log(ctx).WithFields(logrus.Fields{
		"claimed":     report.Claimed,
		"completed":   report.Completed,
		"retried":     report.Retried,
		"failed":      report.Failed,
		"stuck_reset": report.StuckReset,
	}).Info("queue run finished")

	return report, nil
}

func (o *Orchestrator) processQueueItem(ctx context.Context, item *QueueItem, report *QueueReport) {
	n := item.Payload
	n.ScheduledFor = nil

	res, err := o.Send(ctx, &n)
	if err != nil {
		o.settleQueueItem(ctx, item, report, apperrors.IsRetryable(err), err.Error())
		return
	}
	if res.Success {
		o.markQueueItem(ctx, item.ID, QueueCompleted, nil)
		report.Completed++
		return
	}

	retryable := false
	var failures []string
	for _, cr := range res.Channels {
		if cr.Status != StatusFailed {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", cr.Channel, cr.Error))
		if cr.Retryable {
			retryable = true
		}
	}
	o.settleQueueItem(ctx, item, report, retryable, strings.Join(failures, "; "))
}

// settleQueueItem decides between another attempt and the dead letter
// state. Claiming already incremented attempts, so the comparison is
// against the budget directly.
func (o *Orchestrator) settleQueueItem(ctx context.Context, item *QueueItem, report *QueueReport, retryable bool, lastError string) {
	if retryable && item.Attempts < o.config.MaxQueueAttempts {
		o.markQueueItem(ctx, item.ID, QueuePending, &lastError)
		report.Retried++
		return
	}
	o.markQueueItem(ctx, item.ID, QueueFailed, &lastError)
	report.Failed++

	o.log(ctx).WithFields(logrus.Fields{
		"queue_item": item.ID,
		"attempts":   item.Attempts,
		"last_error": lastError,
	}).Warn("queue item exhausted retries")
}

func (o *Orchestrator) markQueueItem(ctx context.Context, id uuid.UUID, status QueueStatus, lastError *string) {
	if err := o.repo.QueueMarkStatus(ctx, id, status, lastError); err != nil {
		o.log(ctx).WithError(err).WithFields(logrus.Fields{
			"queue_item": id,
			"status":     status,
		}).Error("failed to mark queue item")
	}
}

// ReplayFailed moves dead-lettered queue items back to pending with a
// fresh attempt budget.
func (o *Orchestrator) ReplayFailed(ctx context.Context, limit int) (int64, error) {
	replayed, err := o.repo.QueueReplayFailed(ctx, limit)
	if err != nil {
		return 0, apperrors.Internal("failed to replay queue items", err)
	}
	if replayed > 0 {
		o.log(ctx).WithField("replayed", replayed).Info("replayed failed queue items")
	}
	return replayed, nil
}
