package translation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/telemetry"
)

const (
	// maxQueueAttempts caps retries per item; the claim bumps the counter,
	// so an item reaching this value has been tried that many times.
	maxQueueAttempts = 3

	// stuckAfter is how long an item may sit in processing before a pass
	// assumes its worker died and reclaims it.
	stuckAfter = 10 * time.Minute

	defaultQueueLimit = 50
)

// ProcessReport summarises one queue pass.
type ProcessReport struct {
	Recovered int64 `json:"recovered"`
	Claimed   int   `json:"claimed"`
	Completed int   `json:"completed"`
	Requeued  int   `json:"requeued"`
	Failed    int   `json:"failed"`
}

// Processor drains the translation queue: content saved faster than it can
// be translated inline lands here and is worked off by the cron surface.
type Processor struct {
	engine *Engine
	store  Store
	logger *telemetry.ContextualLogger
}

// NewProcessor wires a queue processor.
func NewProcessor(engine *Engine, store Store, logger *telemetry.ContextualLogger) *Processor {
	return &Processor{engine: engine, store: store, logger: logger}
}

// Process recovers stuck items, claims up to limit pending ones, and runs
// each through the engine. Retryable failures below the attempt cap go back
// to pending; everything else fails terminally.
func (p *Processor) Process(ctx context.Context, limit int) (*ProcessReport, error) {
	if limit <= 0 {
		limit = defaultQueueLimit
	}

	report := &ProcessReport{}

	recovered, err := p.store.QueueResetStuck(ctx, time.Now().Add(-stuckAfter))
	if err != nil {
		p.log(ctx).WithError(err).Warn("Failed to reset stuck translation items")
	} else {
		report.Recovered = recovered
		if recovered > 0 {
			p.log(ctx).WithField("recovered", recovered).Info("Recovered stuck translation items")
		}
	}

	items, err := p.store.QueueClaim(ctx, limit)
	if err != nil {
		return nil, err
	}
	report.Claimed = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		p.processItem(ctx, item, report)
	}

	p.log(ctx).WithFields(logrus.Fields{
		"claimed":   report.Claimed,
		"completed": report.Completed,
		"requeued":  report.Requeued,
		"failed":    report.Failed,
	}).Info("Translation queue pass finished")

	return report, nil
}

func (p *Processor) processItem(ctx context.Context, item *QueueItem, report *ProcessReport) {
	res, err := p.engine.Translate(ctx, Request{
		Text:        item.SourceText,
		SourceLang:  item.SourceLang,
		TargetLang:  item.TargetLocale,
		ContentType: item.ContentType,
		ContentID:   item.ContentID,
		FieldName:   item.FieldName,
	})
	if err == nil {
		// The engine persisted the row under the item's identity; the
		// queue entry only tracks the work.
		if markErr := p.store.QueueMarkStatus(ctx, item.ID, QueueCompleted, nil); markErr != nil {
			p.log(ctx).WithError(markErr).WithField("item", item.ID).Warn("Failed to mark translation item completed")
		}
		p.log(ctx).WithFields(logrus.Fields{
			"item":     item.ID,
			"provider": res.Provider,
			"quality":  res.Quality,
		}).Debug("Translation item completed")
		report.Completed++
		return
	}

	// A pass where every tier failed is worth retrying later even though
	// the aggregate code is terminal for inline callers; the attempt cap
	// bounds hopeless items.
	retryable := apperrors.IsRetryable(err) || apperrors.CodeOf(err) == apperrors.CodeAllServicesFailed

	msg := err.Error()
	status := QueueFailed
	if retryable && item.Attempts < maxQueueAttempts {
		status = QueuePending
		report.Requeued++
	} else {
		report.Failed++
	}

	if markErr := p.store.QueueMarkStatus(ctx, item.ID, status, &msg); markErr != nil {
		p.log(ctx).WithError(markErr).WithField("item", item.ID).Warn("Failed to mark translation item")
	}
	p.log(ctx).WithError(err).WithFields(logrus.Fields{
		"item":     item.ID,
		"attempts": item.Attempts,
		"status":   status,
	}).Warn("Translation item failed")
}

func (p *Processor) log(ctx context.Context) *telemetry.ContextualLogger {
	if p.logger != nil {
		return p.logger
	}
	return telemetry.LogFromContext(ctx)
}
