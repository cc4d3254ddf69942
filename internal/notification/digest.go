package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

// digestCategoryOrder fixes section ordering in rendered digests.
var digestCategoryOrder = []Category{
	CategoryChats,
	CategoryPosts,
	CategorySocial,
	CategorySystem,
	CategorySecurity,
	CategoryMarketing,
}

var categoryLabels = map[Category]string{
	CategoryChats:     "Messages",
	CategoryPosts:     "Listings",
	CategorySocial:    "Social",
	CategorySystem:    "System",
	CategorySecurity:  "Security",
	CategoryMarketing: "Offers",
}

// DigestReport summarizes one flush run. Sent and Blocked count digest
// emails; Retried and Failed count individual queue items.
type DigestReport struct {
	Frequency Frequency          `json:"frequency"`
	Claimed   int                `json:"claimed"`
	Users     int                `json:"users"`
	Sent      int                `json:"sent"`
	Blocked   int                `json:"blocked"`
	Retried   int                `json:"retried"`
	Failed    int                `json:"failed"`
	DryRun    bool               `json:"dryRun"`
	Batches   []DigestBatchEntry `json:"batches,omitempty"`
}

type digestBatch struct {
	entry DigestBatchEntry
	items []*QueueItem
}

// ProcessDigest flushes due digest items for one cadence, one email per
// user. A dry run previews the batches without claiming or sending.
func (o *Orchestrator) ProcessDigest(ctx context.Context, freq Frequency, limit int, dryRun bool) (*DigestReport, error) {
	if !freq.IsDigest() {
		return nil, apperrors.Validationf("'%s' is not a digest frequency", freq)
	}

	report := &DigestReport{Frequency: freq, DryRun: dryRun}

	var (
		items []*QueueItem
		err   error
	)
	if dryRun {
		items, err = o.repo.DigestDue(ctx, freq, limit)
	} else {
		items, err = o.repo.DigestClaim(ctx, freq, limit)
	}
	if err != nil {
		return nil, apperrors.Internal("failed to collect digest items", err)
	}
	report.Claimed = len(items)
	if len(items) == 0 {
		return report, nil
	}

	batches := groupDigestItems(items, freq)
	report.Users = len(batches)

	if dryRun {
		for _, b := range batches {
			report.Batches = append(report.Batches, b.entry)
		}
		return report, nil
	}

	for i := range batches {
		o.flushDigestBatch(ctx, &batches[i], report)
	}

	o.log(ctx).WithFields(logrus.Fields{
		"frequency": freq,
		"claimed":   report.Claimed,
		"users":     report.Users,
		"sent":      report.Sent,
		"retried":   report.Retried,
		"failed":    report.Failed,
	}).Info("digest run finished")

	return report, nil
}

// groupDigestItems buckets claimed rows per user, preserving claim order
// across users. Within a batch, items sharing a collapse key render once
// (newest wins) but every claimed row is still consumed by the flush.
func groupDigestItems(items []*QueueItem, freq Frequency) []digestBatch {
	var order []uuid.UUID
	byUser := make(map[uuid.UUID]*digestBatch)

	for _, item := range items {
		b, ok := byUser[item.UserID]
		if !ok {
			b = &digestBatch{entry: DigestBatchEntry{UserID: item.UserID, Frequency: freq}}
			byUser[item.UserID] = b
			order = append(order, item.UserID)
		}
		b.items = append(b.items, item)
	}

	out := make([]digestBatch, 0, len(byUser))
	for _, id := range order {
		b := byUser[id]
		for _, item := range collapseItems(b.items) {
			n := item.Payload
			b.entry.Items = append(b.entry.Items, DigestItem{
				NotificationID: n.ID,
				Type:           n.Type,
				Category:       n.Category(),
				Title:          n.Title,
				Body:           n.Body,
				Data:           n.Data,
				CreatedAt:      item.CreatedAt,
			})
		}
		for _, item := range b.items {
			b.entry.ItemIDs = append(b.entry.ItemIDs, item.ID)
		}
		out = append(out, *b)
	}
	return out
}

// collapseItems drops older entries that share a collapse key with a
// newer one. Items without a key always survive.
func collapseItems(items []*QueueItem) []*QueueItem {
	newest := make(map[string]*QueueItem)
	for _, item := range items {
		key := item.Payload.CollapseKey
		if key == "" {
			continue
		}
		if cur, ok := newest[key]; !ok || item.CreatedAt.After(cur.CreatedAt) {
			newest[key] = item
		}
	}

	out := make([]*QueueItem, 0, len(items))
	for _, item := range items {
		key := item.Payload.CollapseKey
		if key != "" && newest[key] != item {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (o *Orchestrator) flushDigestBatch(ctx context.Context, b *digestBatch, report *DigestReport) {
	n := o.composeDigest(b)

	res, err := o.Send(ctx, n)
	if err != nil {
		o.settleDigestBatch(ctx, b, report, apperrors.IsRetryable(err), err.Error())
		return
	}

	var email *ChannelResult
	for i := range res.Channels {
		if res.Channels[i].Channel == ChannelEmail {
			email = &res.Channels[i]
			break
		}
	}
	if email == nil {
		o.settleDigestBatch(ctx, b, report, false, "digest produced no email outcome")
		return
	}
	if email.Status == StatusFailed {
		o.settleDigestBatch(ctx, b, report, email.Retryable, email.Error)
		return
	}

	// Delivered, or blocked because the user disabled email after the
	// items were deferred. Either way the batch is consumed: every source
	// notification gets its terminal audit row.
	if email.Status == StatusDelivered {
		report.Sent++
	} else {
		report.Blocked++
	}
	for _, it := range b.entry.Items {
		rec := &DeliveryRecord{
			NotificationID: it.NotificationID,
			UserID:         b.entry.UserID,
			Channel:        ChannelEmail,
			Status:         email.Status,
		}
		if email.Provider != "" {
			rec.Provider = Ptr(email.Provider)
		}
		if email.Error != "" {
			rec.ErrorCode = Ptr(email.Error)
		}
		if err := o.repo.InsertDeliveryLog(ctx, rec); err != nil {
			o.log(ctx).WithError(err).WithField("notification_id", it.NotificationID).Error("failed to write digest delivery log")
		}
	}
	for _, item := range b.items {
		o.markQueueItem(ctx, item.ID, QueueCompleted, nil)
	}
}

func (o *Orchestrator) settleDigestBatch(ctx context.Context, b *digestBatch, report *DigestReport, retryable bool, lastError string) {
	for _, item := range b.items {
		if retryable && item.Attempts < o.config.MaxQueueAttempts {
			o.markQueueItem(ctx, item.ID, QueuePending, &lastError)
			report.Retried++
			continue
		}
		o.markQueueItem(ctx, item.ID, QueueFailed, &lastError)
		report.Failed++
	}
}

func (o *Orchestrator) composeDigest(b *digestBatch) *Notification {
	return &Notification{
		ID:       uuid.New(),
		UserID:   b.entry.UserID,
		Type:     TypeDigest,
		Title:    fmt.Sprintf("Your %s digest", b.entry.Frequency),
		Body:     RenderDigest(b.entry.Items, o.config.DigestMaxPerCategory),
		Priority: PriorityLow,
		Data:     Data{"itemCount": strconv.Itoa(len(b.entry.Items))},
	}
}

// RenderDigest produces the plain-text digest body: one section per
// category in fixed order, a capped item list, and an overflow line.
func RenderDigest(items []DigestItem, maxPerCategory int) string {
	if maxPerCategory <= 0 {
		maxPerCategory = 5
	}

	grouped := make(map[Category][]DigestItem)
	for _, it := range items {
		grouped[it.Category] = append(grouped[it.Category], it)
	}

	var sb strings.Builder
	for _, cat := range digestCategoryOrder {
		section := grouped[cat]
		if len(section) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s (%d)\n", categoryLabel(cat), len(section))

		shown := section
		if len(shown) > maxPerCategory {
			shown = shown[:maxPerCategory]
		}
		for _, it := range shown {
			fmt.Fprintf(&sb, "- %s\n", digestLine(it))
		}
		if rest := len(section) - len(shown); rest > 0 {
			fmt.Fprintf(&sb, "+ %d more\n", rest)
		}
	}
	return sb.String()
}

func categoryLabel(c Category) string {
	if label, ok := categoryLabels[c]; ok {
		return label
	}
	return string(c)
}

func digestLine(it DigestItem) string {
	if it.Body == "" {
		return truncateRunes(it.Title, 140)
	}
	return truncateRunes(it.Title+": "+it.Body, 140)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// NextDigestFlush computes when the user's next digest of the given
// cadence goes out, in the user's timezone. Hourly flushes at the top of
// the hour; daily and weekly at the configured clock time and weekday.
func NextDigestFlush(prefs *Preferences, freq Frequency, now time.Time) time.Time {
	loc := time.UTC
	if prefs != nil && prefs.QuietHours.Timezone != "" {
		if l, err := time.LoadLocation(prefs.QuietHours.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	switch freq {
	case FrequencyDaily:
		hour, min := digestClock(prefs)
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, min, 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case FrequencyWeekly:
		hour, min := digestClock(prefs)
		day := time.Weekday(0)
		if prefs != nil && prefs.Digest.WeeklyDay >= 0 && prefs.Digest.WeeklyDay <= 6 {
			day = time.Weekday(prefs.Digest.WeeklyDay)
		}
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, min, 0, 0, loc)
		for next.Weekday() != day || !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	default:
		// Hourly, plus a safe floor for anything unexpected.
		return local.Truncate(time.Hour).Add(time.Hour)
	}
}

func digestClock(prefs *Preferences) (int, int) {
	raw := "08:00"
	if prefs != nil && prefs.Digest.DailyTime != "" {
		raw = prefs.Digest.DailyTime
	}
	clock, err := time.Parse("15:04", raw)
	if err != nil {
		return 8, 0
	}
	return clock.Hour(), clock.Minute()
}
