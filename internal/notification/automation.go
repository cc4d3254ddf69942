package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// AutomationReport summarizes one automation queue run.
type AutomationReport struct {
	Claimed    int               `json:"claimed"`
	Sent       int               `json:"sent"`
	Suppressed int               `json:"suppressed"`
	Retried    int               `json:"retried"`
	Failed     int               `json:"failed"`
	DryRun     bool              `json:"dryRun"`
	Due        []*AutomationItem `json:"due,omitempty"`
}

// EnqueueAutomation schedules a template email for a raw recipient
// address. Automation rows bypass user preferences entirely: they exist
// for addresses that may not belong to an account yet.
func (o *Orchestrator) EnqueueAutomation(ctx context.Context, item *AutomationItem) (*AutomationItem, error) {
	if item.Recipient == "" {
		return nil, apperrors.Validation("recipient is required")
	}
	if item.TemplateSlug == "" {
		return nil, apperrors.Validation("template slug is required")
	}
	if _, err := o.lookupTemplate(ctx, item.TemplateSlug); err != nil {
		return nil, err
	}

	inserted, err := o.repo.AutomationInsert(ctx, item)
	if err != nil {
		return nil, apperrors.Internal("failed to enqueue automation email", err)
	}
	return inserted, nil
}

// ProcessAutomationQueue drains due automation emails in bounded
// concurrent chunks. A dry run lists what is due without claiming.
func (o *Orchestrator) ProcessAutomationQueue(ctx context.Context, batchSize, concurrency int, dryRun bool) (*AutomationReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 5
	}

	report := &AutomationReport{DryRun: dryRun}

	if dryRun {
		due, err := o.repo.AutomationDue(ctx, batchSize)
		if err != nil {
			return nil, apperrors.Internal("failed to list due automation emails", err)
		}
		report.Claimed = len(due)
		report.Due = due
		return report, nil
	}

	if _, ok := o.senders[ChannelEmail]; !ok {
		return nil, apperrors.New(apperrors.CodeInternal, "no email sender registered")
	}

	items, err := o.repo.AutomationClaim(ctx, batchSize)
	if err != nil {
		return nil, apperrors.Internal("failed to claim automation emails", err)
	}
	report.Claimed = len(items)

	var mu sync.Mutex
	for start := 0; start < len(items); start += concurrency {
		end := min(start+concurrency, len(items))

		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			wg.Add(1)
			go func(item *AutomationItem) {
				defer wg.Done()
				status, lastError := o.processAutomationItem(ctx, item)

				var lastErrPtr *string
				if lastError != "" {
					lastErrPtr = &lastError
				}
				if err := o.repo.AutomationMarkStatus(ctx, item.ID, status, lastErrPtr); err != nil {
					o.log(ctx).WithError(err).WithField("automation_id", item.ID).Error("failed to mark automation item")
				}

				mu.Lock()
				switch {
				case status == QueueCompleted && lastError == "":
					report.Sent++
				case status == QueueCompleted:
					report.Suppressed++
				case status == QueuePending:
					report.Retried++
				default:
					report.Failed++
				}
				mu.Unlock()
			}(item)
		}
		wg.Wait()
	}

	o.log(ctx).WithFields(logrus.Fields{
		"claimed":    report.Claimed,
		"sent":       report.Sent,
		"suppressed": report.Suppressed,
		"retried":    report.Retried,
		"failed":     report.Failed,
	}).Info("automation run finished")

	return report, nil
}

// processAutomationItem renders and sends one automation email straight
// through the email sender. Suppressed recipients consume the row; only
// transport failures retry.
func (o *Orchestrator) processAutomationItem(ctx context.Context, item *AutomationItem) (QueueStatus, string) {
	tpl, err := o.lookupTemplate(ctx, item.TemplateSlug)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return QueueFailed, fmt.Sprintf("template %q not found", item.TemplateSlug)
		}
		return o.automationRetryState(item, err.Error())
	}

	vars := stringifyVariables(item.Variables)

	data := Data{}
	if tpl.HTMLContent != "" {
		data["html"] = SubstituteVariables(tpl.HTMLContent, vars)
	}
	n := &Notification{
		ID:       item.ID,
		Type:     Type(tpl.Slug),
		Title:    SubstituteVariables(tpl.Subject, vars),
		Body:     SubstituteVariables(tpl.TextContent, vars),
		Data:     data,
		Priority: PriorityNormal,
		Locale:   item.Locale,
	}
	if preset := tpl.PresetType(); preset != "" {
		n.Type = preset
	}

	cctx, cancel := context.WithTimeout(ctx, o.config.ChannelTimeout)
	defer cancel()

	outcome := o.senders[ChannelEmail].Send(cctx, n, Target{Email: item.Recipient, Locale: item.Locale})

	switch outcome.Status {
	case StatusDelivered:
		return QueueCompleted, ""
	case StatusBlocked:
		return QueueCompleted, outcome.ErrorCode
	default:
		msg := outcome.ErrorMessage
		if msg == "" {
			msg = outcome.ErrorCode
		}
		if !outcome.Retryable {
			return QueueFailed, msg
		}
		return o.automationRetryState(item, msg)
	}
}

func (o *Orchestrator) automationRetryState(item *AutomationItem, lastError string) (QueueStatus, string) {
	if item.Attempts < o.config.MaxQueueAttempts {
		return QueuePending, lastError
	}
	return QueueFailed, lastError
}

func stringifyVariables(vars JSONMap) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
