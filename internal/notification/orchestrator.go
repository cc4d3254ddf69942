package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	apperrors "github.com/heraldhq/herald/internal/errors"
	"github.com/heraldhq/herald/internal/telemetry"
)

// Orchestrator runs the decision pipeline for every notification: validate,
// resolve channels, apply the preference gate, then deliver, defer, or
// block per channel. It owns the audit trail; senders own the providers.
type Orchestrator struct {
	repo      Repository
	config    Config
	logger    *telemetry.ContextualLogger
	senders   map[Channel]Sender
	templates *cache.Cache

	// now is injectable for gate and scheduling tests.
	now func() time.Time
}

// NewOrchestrator creates an orchestrator with no senders registered.
func NewOrchestrator(repo Repository, config Config, logger *telemetry.ContextualLogger) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		config:    config,
		logger:    logger,
		senders:   make(map[Channel]Sender),
		templates: cache.New(config.TemplateCacheTTL, 2*config.TemplateCacheTTL),
		now:       time.Now,
	}
}

// RegisterSender attaches a channel sender. Later registrations for the
// same channel replace earlier ones.
func (o *Orchestrator) RegisterSender(s Sender) {
	o.senders[s.Channel()] = s
}

// Send runs the full pipeline for one notification.
func (o *Orchestrator) Send(ctx context.Context, n *Notification) (*SendResult, error) {
	now := o.now()

	if err := Validate(n, now); err != nil {
		return nil, err
	}

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Priority == "" {
		n.Priority = DefaultPriority(n.Type)
	}

	prefs, err := o.repo.GetPreferences(ctx, n.UserID)
	if err != nil {
		return nil, apperrors.Internal("failed to load preferences", err)
	}

	channels := o.resolveChannels(n, prefs)
	result := &SendResult{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Timestamp:      now,
	}

	if len(channels) == 0 {
		o.log(ctx).WithField("notification_id", n.ID).Warn("no channels resolved")
		result.Settle()
		return result, nil
	}

	// Explicitly scheduled requests skip the gate entirely; it re-runs
	// when the queue processor replays the payload at the due time.
	if n.ScheduledFor != nil {
		for _, ch := range channels {
			result.Channels = append(result.Channels, o.enqueueScheduled(ctx, n, ch, *n.ScheduledFor, ""))
		}
		result.Settle()
		return result, nil
	}

	var instant []Channel
	for _, ch := range channels {
		decision := EvaluateGate(prefs, n, ch, now)
		switch decision.Action {
		case GateBlock:
			result.Channels = append(result.Channels, o.blockChannel(ctx, n, ch, decision.Reason))
		case GateDigest:
			result.Channels = append(result.Channels, o.enqueueDigest(ctx, n, ch, decision.Frequency, prefs, now))
		case GateSchedule:
			result.Channels = append(result.Channels, o.enqueueScheduled(ctx, n, ch, decision.ScheduledFor, decision.Reason))
		default:
			instant = append(instant, ch)
		}
	}

	result.Channels = append(result.Channels, o.dispatchAll(ctx, n, prefs, instant)...)

	if fb, ok := o.fallbackEmail(ctx, n, prefs, result.Channels); ok {
		result.Channels = append(result.Channels, fb)
	}

	result.Settle()
	return result, nil
}

// SendBatch runs up to MaxBatchSize notifications. Sequential mode can
// stop on the first failure; parallel mode always collects everything.
func (o *Orchestrator) SendBatch(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	if len(req.Notifications) == 0 {
		return nil, apperrors.Validation("batch is empty")
	}
	if len(req.Notifications) > o.config.MaxBatchSize {
		return nil, apperrors.Validationf("batch exceeds %d notifications", o.config.MaxBatchSize)
	}

	batch := &BatchResult{Total: len(req.Notifications)}

	if req.Options.Parallel {
		results := make([]*SendResult, len(req.Notifications))
		var wg sync.WaitGroup
		for i, n := range req.Notifications {
			wg.Add(1)
			go func(i int, n *Notification) {
				defer wg.Done()
				res, err := o.Send(ctx, n)
				if err != nil {
					res = o.failedResult(n, err)
				}
				results[i] = res
			}(i, n)
		}
		wg.Wait()
		batch.Results = results
	} else {
		for _, n := range req.Notifications {
			res, err := o.Send(ctx, n)
			if err != nil {
				res = o.failedResult(n, err)
			}
			batch.Results = append(batch.Results, res)
			if !res.Success && req.Options.StopOnError {
				break
			}
		}
	}

	batch.Success = true
	for _, res := range batch.Results {
		if res.Success {
			batch.Delivered++
		} else {
			batch.Failed++
			batch.Success = false
		}
	}
	if len(batch.Results) < batch.Total {
		// Sequential stop-on-error left items unattempted.
		batch.Success = false
	}
	return batch, nil
}

// resolveChannels derives the channel set when the request left it empty.
// Digest is always email-only; critical security types always reach email.
func (o *Orchestrator) resolveChannels(n *Notification, prefs *Preferences) []Channel {
	if n.Type == TypeDigest {
		return []Channel{ChannelEmail}
	}

	var channels []Channel
	if len(n.Channels) > 0 {
		channels = dedupeChannels(n.Channels)
	} else {
		for _, ch := range AllChannels() {
			if prefs.ChannelEnabled(ch) {
				channels = append(channels, ch)
			}
		}
		if IsCriticalSecurity(n.Type) && !containsChannel(channels, ChannelEmail) {
			channels = append(channels, ChannelEmail)
		}
	}
	return channels
}

// dispatchAll fans the instant channels out concurrently, each under its
// own deadline.
func (o *Orchestrator) dispatchAll(ctx context.Context, n *Notification, prefs *Preferences, channels []Channel) []ChannelResult {
	if len(channels) == 0 {
		return nil
	}
	if len(channels) == 1 {
		return []ChannelResult{o.dispatch(ctx, n, prefs, channels[0])}
	}

	results := make([]ChannelResult, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = o.dispatch(ctx, n, prefs, ch)
		}(i, ch)
	}
	wg.Wait()
	return results
}

// dispatch delivers one channel: resolve targets, invoke the sender, write
// the audit row, and prune tokens the provider declared dead.
func (o *Orchestrator) dispatch(ctx context.Context, n *Notification, prefs *Preferences, ch Channel) ChannelResult {
	timeout := o.config.ChannelTimeout
	if n.EffectivePriority() == PriorityCritical {
		timeout = o.config.CriticalTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sender, ok := o.senders[ch]
	if !ok {
		res := ChannelResult{
			Channel:   ch,
			Status:    StatusFailed,
			Error:     "channel_unavailable",
			Retryable: false,
		}
		o.recordDelivery(ctx, n, res, "", 0)
		return res
	}

	target, ok := o.resolveTarget(cctx, n, prefs, ch)
	if !ok {
		res := ChannelResult{
			Channel:   ch,
			Status:    StatusFailed,
			Error:     ReasonNoTargets,
			Retryable: false,
		}
		o.recordDelivery(ctx, n, res, "", 0)
		return res
	}

	outcome := sender.Send(cctx, n, target)

	res := ChannelResult{
		Channel:   ch,
		Status:    outcome.Status,
		Success:   outcome.Status == StatusDelivered,
		Provider:  outcome.Provider,
		MessageID: outcome.MessageID,
		Error:     outcome.ErrorCode,
		Retryable: outcome.Retryable,
		LatencyMs: outcome.LatencyMs,
	}

	o.recordDelivery(ctx, n, res, outcome.ErrorMessage, outcome.Attempts)

	// Token hygiene runs on the parent context so a channel deadline
	// never loses a deactivation.
	for _, token := range outcome.InvalidTokens {
		if err := o.repo.DeactivateToken(ctx, token); err != nil {
			o.log(ctx).WithError(err).Warn("failed to deactivate token")
		}
	}
	if len(outcome.DeliveredTokens) > 0 {
		if err := o.repo.TouchTokens(ctx, outcome.DeliveredTokens); err != nil {
			o.log(ctx).WithError(err).Warn("failed to touch tokens")
		}
	}

	return res
}

// fallbackEmail attempts email once when a critical-security push found no
// successful target. It never widens beyond email.
func (o *Orchestrator) fallbackEmail(ctx context.Context, n *Notification, prefs *Preferences, results []ChannelResult) (ChannelResult, bool) {
	if !IsCriticalSecurity(n.Type) {
		return ChannelResult{}, false
	}

	pushFailed := false
	emailSeen := false
	for _, r := range results {
		switch r.Channel {
		case ChannelPush:
			// A scheduled or digest-deferred push is still pending, not
			// failed; falling back would double-deliver later.
			if r.Status == StatusFailed || r.Status == StatusBlocked {
				pushFailed = true
			}
		case ChannelEmail:
			emailSeen = true
		}
	}
	if !pushFailed || emailSeen {
		return ChannelResult{}, false
	}

	o.log(ctx).WithFields(logrus.Fields{
		"notification_id": n.ID,
		"type":            n.Type,
	}).Info("push found no target, falling back to email")

	res := o.dispatch(ctx, n, prefs, ChannelEmail)
	res.Fallback = true
	return res, true
}

// resolveTarget looks up the delivery endpoints for a channel. A false
// return means the user has nothing to deliver to.
func (o *Orchestrator) resolveTarget(ctx context.Context, n *Notification, prefs *Preferences, ch Channel) (Target, bool) {
	target := Target{UserID: n.UserID, Locale: n.Locale}

	switch ch {
	case ChannelPush:
		tokens, err := o.repo.ListActiveDeviceTokens(ctx, n.UserID)
		if err != nil {
			o.log(ctx).WithError(err).Warn("device token lookup failed")
			return target, false
		}
		if len(tokens) == 0 {
			return target, false
		}
		target.Tokens = tokens

	case ChannelEmail:
		if override, ok := n.Data["email"]; ok && override != "" {
			target.Email = override
			break
		}
		if prefs.EmailAddress == nil || *prefs.EmailAddress == "" {
			return target, false
		}
		// Verification mail necessarily goes to a not-yet-verified
		// address; everything else requires a verified one.
		if !prefs.EmailVerified && !IsCriticalSecurity(n.Type) {
			return target, false
		}
		target.Email = *prefs.EmailAddress

	case ChannelSMS:
		if prefs.PhoneNumber == nil || *prefs.PhoneNumber == "" || !prefs.PhoneVerified {
			return target, false
		}
		target.Phone = *prefs.PhoneNumber

	case ChannelInApp:
		// The user id is the target.
	}

	return target, true
}

// blockChannel records a preference-blocked outcome.
func (o *Orchestrator) blockChannel(ctx context.Context, n *Notification, ch Channel, reason string) ChannelResult {
	res := ChannelResult{
		Channel: ch,
		Status:  StatusBlocked,
		Error:   reason,
	}
	o.recordDelivery(ctx, n, res, "", 0)
	return res
}

// enqueueScheduled persists one deferred channel as a queue item. The
// reason (dnd, quiet_hours, empty for explicit scheduling) lands in the
// audit row but not in the caller-facing result.
func (o *Orchestrator) enqueueScheduled(ctx context.Context, n *Notification, ch Channel, at time.Time, reason string) ChannelResult {
	payload := *n
	payload.Channels = []Channel{ch}
	payload.ScheduledFor = nil

	item := &QueueItem{
		UserID:       n.UserID,
		Payload:      payload,
		ScheduledFor: at,
		Priority:     n.EffectivePriority().QueueWeight(),
	}
	if _, err := o.repo.QueueInsert(ctx, item); err != nil {
		o.log(ctx).WithError(err).Error("failed to enqueue scheduled notification")
		return ChannelResult{
			Channel:   ch,
			Status:    StatusFailed,
			Error:     string(apperrors.CodeInternal),
			Retryable: true,
		}
	}

	res := ChannelResult{
		Channel:      ch,
		Status:       StatusScheduled,
		Scheduled:    true,
		ScheduledFor: &at,
	}

	rec := &DeliveryRecord{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        ch,
		Status:         StatusScheduled,
	}
	if reason != "" {
		rec.ErrorCode = Ptr(reason)
	}
	if err := o.repo.InsertDeliveryLog(ctx, rec); err != nil {
		o.log(ctx).WithError(err).Error("failed to write delivery log")
	}
	return res
}

// enqueueDigest appends the notification to the user's digest batch for
// the given cadence instead of delivering it.
func (o *Orchestrator) enqueueDigest(ctx context.Context, n *Notification, ch Channel, freq Frequency, prefs *Preferences, now time.Time) ChannelResult {
	key := ConsolidationKey(freq, n.UserID, n.CollapseKey)
	flush := NextDigestFlush(prefs, freq, now)

	payload := *n
	payload.Channels = []Channel{ch}
	payload.ScheduledFor = nil

	item := &QueueItem{
		UserID:           n.UserID,
		Payload:          payload,
		ScheduledFor:     flush,
		ConsolidationKey: &key,
		Priority:         n.EffectivePriority().QueueWeight(),
	}
	if _, err := o.repo.QueueInsert(ctx, item); err != nil {
		o.log(ctx).WithError(err).Error("failed to enqueue digest item")
		return ChannelResult{
			Channel:   ch,
			Status:    StatusFailed,
			Error:     string(apperrors.CodeInternal),
			Retryable: true,
		}
	}

	res := ChannelResult{
		Channel:      ch,
		Status:       StatusDeferred,
		Error:        ReasonDigest,
		ScheduledFor: &flush,
	}
	o.recordDelivery(ctx, n, res, "", 0)
	return res
}

// recordDelivery upserts the audit row. Log failures never fail the send:
// the delivery already happened (or deliberately did not).
func (o *Orchestrator) recordDelivery(ctx context.Context, n *Notification, res ChannelResult, errorMessage string, attempts int) {
	rec := &DeliveryRecord{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        res.Channel,
		Status:         res.Status,
		Attempts:       attempts,
	}
	if res.Provider != "" {
		rec.Provider = Ptr(res.Provider)
	}
	if res.Error != "" {
		rec.ErrorCode = Ptr(res.Error)
	}
	if errorMessage != "" {
		rec.ErrorMessage = Ptr(errorMessage)
	}
	if res.LatencyMs > 0 {
		rec.LatencyMs = Ptr(res.LatencyMs)
	}
	if res.MessageID != "" {
		rec.ProviderMessageID = Ptr(res.MessageID)
	}

	if err := o.repo.InsertDeliveryLog(ctx, rec); err != nil {
		o.log(ctx).WithError(err).WithFields(logrus.Fields{
			"notification_id": n.ID,
			"channel":         res.Channel,
		}).Error("failed to write delivery log")
	}
}

// failedResult synthesizes a SendResult for a request rejected before the
// pipeline produced channel outcomes (batch bookkeeping).
func (o *Orchestrator) failedResult(n *Notification, err error) *SendResult {
	return &SendResult{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Success:        false,
		Timestamp:      o.now(),
		Channels: []ChannelResult{{
			Status:    StatusFailed,
			Error:     string(apperrors.CodeOf(err)),
			Retryable: apperrors.IsRetryable(err),
		}},
	}
}

// Stats aggregates the delivery log over the trailing window.
func (o *Orchestrator) Stats(ctx context.Context, window time.Duration) (*DeliveryStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return o.repo.DeliveryStats(ctx, o.now().Add(-window))
}

// SenderHealth reports each registered sender's self-check.
func (o *Orchestrator) SenderHealth(ctx context.Context) map[Channel]HealthStatus {
	out := make(map[Channel]HealthStatus, len(o.senders))
	for ch, s := range o.senders {
		out[ch] = s.Health(ctx)
	}
	return out
}

func (o *Orchestrator) log(ctx context.Context) *telemetry.ContextualLogger {
	if o.logger != nil {
		return o.logger
	}
	return telemetry.LogFromContext(ctx)
}

func dedupeChannels(channels []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(channels))
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

func containsChannel(channels []Channel, ch Channel) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}

// ConsolidationKey builds the digest grouping key. The frequency prefix
// lets a flush claim one cadence with a single range match.
func ConsolidationKey(freq Frequency, userID uuid.UUID, custom string) string {
	if custom != "" {
		return fmt.Sprintf("%s/%s/%s", freq, userID, custom)
	}
	return fmt.Sprintf("%s/%s", freq, userID)
}
