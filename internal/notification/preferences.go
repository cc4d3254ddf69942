package notification

import (
	"time"

	"github.com/google/uuid"
)

// GateAction is what the preference gate decided for one channel.
type GateAction string

const (
	GateDeliver  GateAction = "deliver"
	GateDigest   GateAction = "digest"
	GateSchedule GateAction = "schedule"
	GateBlock    GateAction = "block"
)

// GateDecision carries the action plus the data needed to execute it.
type GateDecision struct {
	Channel      Channel
	Action       GateAction
	Frequency    Frequency // digest cadence when Action == GateDigest
	ScheduledFor time.Time // window exit when Action == GateSchedule
	Reason       string    // preferences | dnd | quiet_hours
}

// EvaluateGate applies the preference gate for a single channel.
//
// Critical priority overrides everything here; suppression lists are
// enforced later at the adapter boundary. High priority bypasses the DND
// and quiet-hours windows but still honours disabled channels and digest
// cadences.
func EvaluateGate(prefs *Preferences, n *Notification, ch Channel, now time.Time) GateDecision {
	priority := n.EffectivePriority()

	if priority == PriorityCritical {
		return GateDecision{Channel: ch, Action: GateDeliver}
	}

	if !prefs.ChannelEnabled(ch) {
		return GateDecision{Channel: ch, Action: GateBlock, Reason: ReasonPreferences}
	}

	// A digest email is the product of the leaf rules, so only the global
	// toggle above applies to it. Skipping the cadence check also keeps a
	// flush from deferring into yet another digest.
	if n.Type == TypeDigest {
		return GateDecision{Channel: ch, Action: GateDeliver}
	}

	leaf := prefs.CategoryPreference(n.Category(), ch)
	if !leaf.Enabled || leaf.Frequency == FrequencyNever {
		return GateDecision{Channel: ch, Action: GateBlock, Reason: ReasonPreferences}
	}

	if leaf.Frequency.IsDigest() {
		return GateDecision{Channel: ch, Action: GateDigest, Frequency: leaf.Frequency}
	}

	bypassWindows := priority.Rank() >= PriorityHigh.Rank()

	if prefs.Dnd.Active(now) && !bypassWindows {
		return GateDecision{
			Channel:      ch,
			Action:       GateSchedule,
			ScheduledFor: *prefs.Dnd.Until,
			Reason:       ReasonDnd,
		}
	}

	if in, exit := InQuietHours(prefs.QuietHours, now); in && !bypassWindows {
		return GateDecision{
			Channel:      ch,
			Action:       GateSchedule,
			ScheduledFor: exit,
			Reason:       ReasonQuietHours,
		}
	}

	return GateDecision{Channel: ch, Action: GateDeliver}
}

// InQuietHours reports whether now falls inside the quiet window and, if
// so, when the window exits. The window is evaluated in the user's IANA
// timezone and handles ranges that wrap past midnight (22:00-08:00).
// Malformed settings never suppress delivery.
func InQuietHours(q QuietHours, now time.Time) (bool, time.Time) {
	if !q.Enabled {
		return false, time.Time{}
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return false, time.Time{}
	}

	startClock, err := time.Parse("15:04", q.Start)
	if err != nil {
		return false, time.Time{}
	}
	endClock, err := time.Parse("15:04", q.End)
	if err != nil {
		return false, time.Time{}
	}

	local := now.In(loc)
	year, month, day := local.Date()
	start := time.Date(year, month, day, startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(year, month, day, endClock.Hour(), endClock.Minute(), 0, 0, loc)

	if start.Before(end) || start.Equal(end) {
		// Same-day window, e.g. 13:00-15:00.
		if !local.Before(start) && local.Before(end) {
			return true, end
		}
		return false, time.Time{}
	}

	// Wraps midnight, e.g. 22:00-08:00.
	if local.Before(end) {
		return true, end
	}
	if !local.Before(start) {
		return true, end.AddDate(0, 0, 1)
	}
	return false, time.Time{}
}

// DefaultPreferences is the tree materialised on first read. Category
// leaves are absent on purpose: CategoryPreference treats a missing leaf
// as enabled/instant.
func DefaultPreferences(userID uuid.UUID) *Preferences {
	now := time.Now().UTC()
	return &Preferences{
		UserID:       userID,
		PushEnabled:  true,
		EmailEnabled: true,
		SMSEnabled:   false,
		InAppEnabled: true,
		QuietHours:   QuietHours{},
		Dnd:          DndSettings{},
		Digest:       DigestSettings{DailyTime: "08:00", WeeklyDay: 1},
		Categories:   CategoryPreferences{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// PreferencesPatch is a partial update. Nil fields leave the stored value
// untouched; category leaves merge per field rather than replacing the
// whole sub-tree.
type PreferencesPatch struct {
	PushEnabled   *bool                    `json:"push_enabled,omitempty"`
	EmailEnabled  *bool                    `json:"email_enabled,omitempty"`
	SMSEnabled    *bool                    `json:"sms_enabled,omitempty"`
	InAppEnabled  *bool                    `json:"in_app_enabled,omitempty"`
	EmailAddress  *string                  `json:"email_address,omitempty"`
	EmailVerified *bool                    `json:"email_verified,omitempty"`
	PhoneNumber   *string                  `json:"phone_number,omitempty"`
	PhoneVerified *bool                    `json:"phone_verified,omitempty"`
	QuietHours    *QuietHoursPatch         `json:"quiet_hours,omitempty"`
	Dnd           *DndPatch                `json:"dnd,omitempty"`
	Digest        *DigestPatch             `json:"digest,omitempty"`
	Categories    CategoryPreferencesPatch `json:"categories,omitempty"`
}

type QuietHoursPatch struct {
	Enabled  *bool   `json:"enabled,omitempty"`
	Start    *string `json:"start,omitempty"`
	End      *string `json:"end,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

type DndPatch struct {
	Enabled *bool      `json:"enabled,omitempty"`
	Until   *time.Time `json:"until,omitempty"`
}

type DigestPatch struct {
	DailyEnabled  *bool   `json:"daily_enabled,omitempty"`
	DailyTime     *string `json:"daily_time,omitempty"`
	WeeklyEnabled *bool   `json:"weekly_enabled,omitempty"`
	WeeklyDay     *int    `json:"weekly_day,omitempty"`
}

type ChannelPreferencePatch struct {
	Enabled   *bool      `json:"enabled,omitempty"`
	Frequency *Frequency `json:"frequency,omitempty"`
}

type CategoryPreferencesPatch map[Category]map[Channel]ChannelPreferencePatch

// ApplyPatch deep-merges a partial update into the tree and returns the
// merged copy. Untouched paths keep their stored values.
func ApplyPatch(base *Preferences, patch *PreferencesPatch) *Preferences {
	merged := *base
	if patch == nil {
		return &merged
	}

	if patch.PushEnabled != nil {
		merged.PushEnabled = *patch.PushEnabled
	}
	if patch.EmailEnabled != nil {
		merged.EmailEnabled = *patch.EmailEnabled
	}
	if patch.SMSEnabled != nil {
		merged.SMSEnabled = *patch.SMSEnabled
	}
	if patch.InAppEnabled != nil {
		merged.InAppEnabled = *patch.InAppEnabled
	}
	if patch.EmailAddress != nil {
		merged.EmailAddress = patch.EmailAddress
		// A new address starts unverified unless the patch says otherwise.
		if patch.EmailVerified == nil {
			merged.EmailVerified = false
		}
	}
	if patch.EmailVerified != nil {
		merged.EmailVerified = *patch.EmailVerified
	}
	if patch.PhoneNumber != nil {
		merged.PhoneNumber = patch.PhoneNumber
		// A new number starts unverified unless the patch says otherwise.
		if patch.PhoneVerified == nil {
			merged.PhoneVerified = false
		}
	}
	if patch.PhoneVerified != nil {
		merged.PhoneVerified = *patch.PhoneVerified
	}

	if patch.QuietHours != nil {
		if patch.QuietHours.Enabled != nil {
			merged.QuietHours.Enabled = *patch.QuietHours.Enabled
		}
		if patch.QuietHours.Start != nil {
			merged.QuietHours.Start = *patch.QuietHours.Start
		}
		if patch.QuietHours.End != nil {
			merged.QuietHours.End = *patch.QuietHours.End
		}
		if patch.QuietHours.Timezone != nil {
			merged.QuietHours.Timezone = *patch.QuietHours.Timezone
		}
	}

	if patch.Dnd != nil {
		if patch.Dnd.Enabled != nil {
			merged.Dnd.Enabled = *patch.Dnd.Enabled
		}
		if patch.Dnd.Until != nil {
			merged.Dnd.Until = patch.Dnd.Until
		}
	}

	if patch.Digest != nil {
		if patch.Digest.DailyEnabled != nil {
			merged.Digest.DailyEnabled = *patch.Digest.DailyEnabled
		}
		if patch.Digest.DailyTime != nil {
			merged.Digest.DailyTime = *patch.Digest.DailyTime
		}
		if patch.Digest.WeeklyEnabled != nil {
			merged.Digest.WeeklyEnabled = *patch.Digest.WeeklyEnabled
		}
		if patch.Digest.WeeklyDay != nil {
			merged.Digest.WeeklyDay = *patch.Digest.WeeklyDay
		}
	}

	if len(patch.Categories) > 0 {
		merged.Categories = mergeCategories(base.Categories, patch.Categories)
	} else {
		merged.Categories = cloneCategories(base.Categories)
	}

	return &merged
}

func mergeCategories(base CategoryPreferences, patch CategoryPreferencesPatch) CategoryPreferences {
	merged := cloneCategories(base)

	for cat, channels := range patch {
		if merged[cat] == nil {
			merged[cat] = make(map[Channel]ChannelPreference, len(channels))
		}
		for ch, leafPatch := range channels {
			leaf, ok := merged[cat][ch]
			if !ok {
				leaf = ChannelPreference{Enabled: true, Frequency: FrequencyInstant}
			}
			if leafPatch.Enabled != nil {
				leaf.Enabled = *leafPatch.Enabled
			}
			if leafPatch.Frequency != nil {
				leaf.Frequency = *leafPatch.Frequency
			}
			merged[cat][ch] = leaf
		}
	}

	return merged
}

func cloneCategories(base CategoryPreferences) CategoryPreferences {
	cloned := make(CategoryPreferences, len(base))
	for cat, channels := range base {
		cloned[cat] = make(map[Channel]ChannelPreference, len(channels))
		for ch, leaf := range channels {
			cloned[cat][ch] = leaf
		}
	}
	return cloned
}
