package notification

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	apperrors "github.com/heraldhq/herald/internal/errors"
)

const (
	// maxBodyChars caps the rendered body length.
	maxBodyChars = 50000
	// maxScheduleHorizon bounds how far out a send may be scheduled.
	maxScheduleHorizon = 90 * 24 * time.Hour
)

// Validate checks a request before the pipeline runs. It has no side
// effects; a failure means nothing was persisted or dispatched.
func Validate(n *Notification, now time.Time) error {
	if n == nil {
		return apperrors.Validation("notification is required")
	}
	if n.UserID == uuid.Nil {
		return apperrors.Validation("user id is required")
	}
	if n.Type == "" {
		return apperrors.Validation("type is required")
	}
	if strings.TrimSpace(n.Title) == "" {
		return apperrors.Validation("title is required")
	}
	if n.Body == "" {
		return apperrors.Validation("body is required")
	}
	if utf8.RuneCountInString(n.Body) > maxBodyChars {
		return apperrors.Validationf("body exceeds %d characters", maxBodyChars)
	}
	if n.Priority != "" && !n.Priority.Valid() {
		return apperrors.Validationf("unknown priority %q", n.Priority)
	}
	for _, ch := range n.Channels {
		if !ch.Valid() {
			return apperrors.Validationf("unknown channel %q", ch)
		}
	}
	if n.TTLSeconds != nil && *n.TTLSeconds <= 0 {
		return apperrors.Validation("ttl seconds must be positive")
	}
	if n.Badge != nil && *n.Badge < 0 {
		return apperrors.Validation("badge must be non-negative")
	}
	if n.ScheduledFor != nil {
		if !n.ScheduledFor.After(now) {
			return apperrors.Validation("scheduled_for must be in the future")
		}
		if n.ScheduledFor.Sub(now) > maxScheduleHorizon {
			return apperrors.Validation("scheduled_for is more than 90 days out")
		}
	}
	return nil
}

// ValidatePreferencesPatch rejects malformed preference updates before
// they reach storage. Well-formed but nonsensical windows (start == end)
// are allowed; the gate treats them as empty.
func ValidatePreferencesPatch(patch *PreferencesPatch) error {
	if patch == nil {
		return apperrors.Validation("preferences patch is required")
	}

	if q := patch.QuietHours; q != nil {
		if q.Start != nil {
			if _, err := time.Parse("15:04", *q.Start); err != nil {
				return apperrors.Validationf("invalid quiet hours start %q, want HH:MM", *q.Start)
			}
		}
		if q.End != nil {
			if _, err := time.Parse("15:04", *q.End); err != nil {
				return apperrors.Validationf("invalid quiet hours end %q, want HH:MM", *q.End)
			}
		}
		if q.Timezone != nil && *q.Timezone != "" {
			if _, err := time.LoadLocation(*q.Timezone); err != nil {
				return apperrors.Validationf("unknown timezone %q", *q.Timezone)
			}
		}
	}

	if d := patch.Digest; d != nil {
		if d.DailyTime != nil {
			if _, err := time.Parse("15:04", *d.DailyTime); err != nil {
				return apperrors.Validationf("invalid digest time %q, want HH:MM", *d.DailyTime)
			}
		}
		if d.WeeklyDay != nil && (*d.WeeklyDay < 0 || *d.WeeklyDay > 6) {
			return apperrors.Validation("digest weekly day must be 0 (Sunday) through 6")
		}
	}

	for category, channels := range patch.Categories {
		if !category.Valid() {
			return apperrors.Validationf("unknown category %q", category)
		}
		for ch, leaf := range channels {
			if !ch.Valid() {
				return apperrors.Validationf("unknown channel %q", ch)
			}
			if leaf.Frequency != nil && !leaf.Frequency.Valid() {
				return apperrors.Validationf("unknown frequency %q", *leaf.Frequency)
			}
		}
	}

	return nil
}
