package notification

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatePrefs(modify func(*Preferences)) *Preferences {
	prefs := DefaultPreferences(uuid.New())
	if modify != nil {
		modify(prefs)
	}
	return prefs
}

func TestEvaluateGate(t *testing.T) {
	afternoon := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	lateNight := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	quiet := QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"}

	cases := []struct {
		name   string
		prefs  *Preferences
		n      *Notification
		ch     Channel
		now    time.Time
		want   GateAction
		reason string
	}{
		{
			name:  "plain delivery",
			prefs: gatePrefs(nil),
			n:     &Notification{Type: TypeNewMessage},
			ch:    ChannelPush,
			now:   afternoon,
			want:  GateDeliver,
		},
		{
			name:   "channel toggle blocks",
			prefs:  gatePrefs(func(p *Preferences) { p.PushEnabled = false }),
			n:      &Notification{Type: TypeNewMessage},
			ch:     ChannelPush,
			now:    afternoon,
			want:   GateBlock,
			reason: ReasonPreferences,
		},
		{
			name:  "critical overrides the toggle",
			prefs: gatePrefs(func(p *Preferences) { p.PushEnabled = false }),
			n:     &Notification{Type: TypeAccountSecurity},
			ch:    ChannelPush,
			now:   afternoon,
			want:  GateDeliver,
		},
		{
			name: "leaf disabled blocks",
			prefs: gatePrefs(func(p *Preferences) {
				p.Categories = CategoryPreferences{
					CategoryChats: {ChannelPush: {Enabled: false, Frequency: FrequencyInstant}},
				}
			}),
			n:      &Notification{Type: TypeNewMessage},
			ch:     ChannelPush,
			now:    afternoon,
			want:   GateBlock,
			reason: ReasonPreferences,
		},
		{
			name: "never frequency blocks",
			prefs: gatePrefs(func(p *Preferences) {
				p.Categories = CategoryPreferences{
					CategoryMarketing: {ChannelEmail: {Enabled: true, Frequency: FrequencyNever}},
				}
			}),
			n:      &Notification{Type: TypePromotion},
			ch:     ChannelEmail,
			now:    afternoon,
			want:   GateBlock,
			reason: ReasonPreferences,
		},
		{
			name: "digest cadence defers",
			prefs: gatePrefs(func(p *Preferences) {
				p.Categories = CategoryPreferences{
					CategoryPosts: {ChannelEmail: {Enabled: true, Frequency: FrequencyDaily}},
				}
			}),
			n:    &Notification{Type: TypeListingFavorited},
			ch:   ChannelEmail,
			now:  afternoon,
			want: GateDigest,
		},
		{
			name:   "quiet hours schedule",
			prefs:  gatePrefs(func(p *Preferences) { p.QuietHours = quiet }),
			n:      &Notification{Type: TypeListingFavorited},
			ch:     ChannelPush,
			now:    lateNight,
			want:   GateSchedule,
			reason: ReasonQuietHours,
		},
		{
			name:  "high priority crosses quiet hours",
			prefs: gatePrefs(func(p *Preferences) { p.QuietHours = quiet }),
			n:     &Notification{Type: TypeNewMessage},
			ch:    ChannelPush,
			now:   lateNight,
			want:  GateDeliver,
		},
		{
			name: "dnd schedules until expiry",
			prefs: gatePrefs(func(p *Preferences) {
				until := afternoon.Add(time.Hour)
				p.Dnd = DndSettings{Enabled: true, Until: &until}
			}),
			n:      &Notification{Type: TypeListingFavorited},
			ch:     ChannelPush,
			now:    afternoon,
			want:   GateSchedule,
			reason: ReasonDnd,
		},
		{
			name: "expired dnd is inert",
			prefs: gatePrefs(func(p *Preferences) {
				until := afternoon.Add(-time.Hour)
				p.Dnd = DndSettings{Enabled: true, Until: &until}
			}),
			n:    &Notification{Type: TypeListingFavorited},
			ch:   ChannelPush,
			now:  afternoon,
			want: GateDeliver,
		},
		{
			name: "digest mail skips leaf cadences",
			prefs: gatePrefs(func(p *Preferences) {
				p.QuietHours = quiet
				p.Categories = CategoryPreferences{
					CategorySystem: {ChannelEmail: {Enabled: true, Frequency: FrequencyDaily}},
				}
			}),
			n:    &Notification{Type: TypeDigest, Priority: PriorityLow},
			ch:   ChannelEmail,
			now:  lateNight,
			want: GateDeliver,
		},
		{
			name:   "digest mail still honours the global toggle",
			prefs:  gatePrefs(func(p *Preferences) { p.EmailEnabled = false }),
			n:      &Notification{Type: TypeDigest, Priority: PriorityLow},
			ch:     ChannelEmail,
			now:    afternoon,
			want:   GateBlock,
			reason: ReasonPreferences,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := EvaluateGate(tc.prefs, tc.n, tc.ch, tc.now)
			assert.Equal(t, tc.want, decision.Action)
			if tc.reason != "" {
				assert.Equal(t, tc.reason, decision.Reason)
			}
		})
	}
}

func TestEvaluateGateDndBeforeQuietHours(t *testing.T) {
	lateNight := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	until := lateNight.Add(30 * time.Minute)
	prefs := gatePrefs(func(p *Preferences) {
		p.QuietHours = QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"}
		p.Dnd = DndSettings{Enabled: true, Until: &until}
	})

	decision := EvaluateGate(prefs, &Notification{Type: TypeListingFavorited}, ChannelPush, lateNight)
	require.Equal(t, GateSchedule, decision.Action)
	assert.Equal(t, ReasonDnd, decision.Reason)
	assert.True(t, decision.ScheduledFor.Equal(until))
}

func TestInQuietHours(t *testing.T) {
	cases := []struct {
		name     string
		q        QuietHours
		now      time.Time
		wantIn   bool
		wantExit time.Time
	}{
		{
			name:   "disabled",
			q:      QuietHours{Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:    time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC),
			wantIn: false,
		},
		{
			name:     "same-day window inside",
			q:        QuietHours{Enabled: true, Start: "13:00", End: "15:00", Timezone: "UTC"},
			now:      time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
			wantIn:   true,
			wantExit: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
		},
		{
			name:   "same-day window outside",
			q:      QuietHours{Enabled: true, Start: "13:00", End: "15:00", Timezone: "UTC"},
			now:    time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC),
			wantIn: false,
		},
		{
			name:   "end boundary is exclusive",
			q:      QuietHours{Enabled: true, Start: "13:00", End: "15:00", Timezone: "UTC"},
			now:    time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
			wantIn: false,
		},
		{
			name:     "wrapping window before midnight",
			q:        QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:      time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC),
			wantIn:   true,
			wantExit: time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "wrapping window after midnight",
			q:        QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:      time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC),
			wantIn:   true,
			wantExit: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		},
		{
			name:   "wrapping window daytime",
			q:      QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "UTC"},
			now:    time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			wantIn: false,
		},
		{
			name:     "timezone conversion",
			q:        QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "Europe/Prague"},
			now:      time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC), // 22:30 Prague
			wantIn:   true,
			wantExit: time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC), // 08:00 Prague
		},
		{
			name:   "malformed timezone never suppresses",
			q:      QuietHours{Enabled: true, Start: "22:00", End: "08:00", Timezone: "Mars/Olympus"},
			now:    time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC),
			wantIn: false,
		},
		{
			name:   "malformed clock never suppresses",
			q:      QuietHours{Enabled: true, Start: "25:99", End: "08:00", Timezone: "UTC"},
			now:    time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC),
			wantIn: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, exit := InQuietHours(tc.q, tc.now)
			assert.Equal(t, tc.wantIn, in)
			if tc.wantIn {
				assert.True(t, exit.Equal(tc.wantExit), "exit %s, want %s", exit, tc.wantExit)
			}
		})
	}
}

func TestApplyPatchResetsVerificationOnContactChange(t *testing.T) {
	base := DefaultPreferences(uuid.New())
	base.EmailAddress = Ptr("old@example.com")
	base.EmailVerified = true
	base.PhoneNumber = Ptr("+420123456789")
	base.PhoneVerified = true

	merged := ApplyPatch(base, &PreferencesPatch{
		EmailAddress: Ptr("new@example.com"),
	})

	assert.Equal(t, "new@example.com", *merged.EmailAddress)
	assert.False(t, merged.EmailVerified, "changing the address must reset verification")
	assert.True(t, merged.PhoneVerified, "untouched contact keeps its verification")

	// An explicit verified flag in the same patch wins.
	verified := ApplyPatch(base, &PreferencesPatch{
		EmailAddress:  Ptr("new@example.com"),
		EmailVerified: Ptr(true),
	})
	assert.True(t, verified.EmailVerified)
}

func TestApplyPatchMergesCategoryLeaves(t *testing.T) {
	base := DefaultPreferences(uuid.New())
	base.Categories = CategoryPreferences{
		CategoryPosts: {ChannelEmail: {Enabled: true, Frequency: FrequencyDaily}},
	}

	merged := ApplyPatch(base, &PreferencesPatch{
		Categories: CategoryPreferencesPatch{
			CategoryPosts: {ChannelPush: {Enabled: Ptr(false)}},
		},
	})

	// The existing leaf survives, the new leaf starts from the defaults.
	assert.Equal(t, FrequencyDaily, merged.Categories[CategoryPosts][ChannelEmail].Frequency)
	assert.False(t, merged.Categories[CategoryPosts][ChannelPush].Enabled)
	assert.Equal(t, FrequencyInstant, merged.Categories[CategoryPosts][ChannelPush].Frequency)

	// The merge never aliases the stored tree.
	merged.Categories[CategoryPosts][ChannelEmail] = ChannelPreference{Enabled: false}
	assert.True(t, base.Categories[CategoryPosts][ChannelEmail].Enabled)
}

func TestDefaultPreferences(t *testing.T) {
	userID := uuid.New()
	prefs := DefaultPreferences(userID)

	assert.Equal(t, userID, prefs.UserID)
	assert.True(t, prefs.PushEnabled)
	assert.True(t, prefs.EmailEnabled)
	assert.True(t, prefs.InAppEnabled)
	assert.False(t, prefs.SMSEnabled, "sms is opt-in")
	assert.Equal(t, "08:00", prefs.Digest.DailyTime)
	assert.False(t, prefs.QuietHours.Enabled)
}

func TestCategoryPreferenceFallbacks(t *testing.T) {
	prefs := DefaultPreferences(uuid.New())

	leaf := prefs.CategoryPreference(CategoryChats, ChannelPush)
	assert.True(t, leaf.Enabled)
	assert.Equal(t, FrequencyInstant, leaf.Frequency)

	prefs.Categories = CategoryPreferences{
		CategoryChats: {ChannelPush: {Enabled: true}},
	}
	leaf = prefs.CategoryPreference(CategoryChats, ChannelPush)
	assert.Equal(t, FrequencyInstant, leaf.Frequency, "empty frequency reads as instant")
}

func TestValidatePreferencesPatch(t *testing.T) {
	cases := []struct {
		name    string
		patch   *PreferencesPatch
		wantErr bool
	}{
		{"nil patch", nil, true},
		{"empty patch", &PreferencesPatch{}, false},
		{"good quiet hours", &PreferencesPatch{QuietHours: &QuietHoursPatch{Start: Ptr("22:00"), End: Ptr("08:00"), Timezone: Ptr("Europe/Prague")}}, false},
		{"bad clock", &PreferencesPatch{QuietHours: &QuietHoursPatch{Start: Ptr("25:00")}}, true},
		{"bad timezone", &PreferencesPatch{QuietHours: &QuietHoursPatch{Timezone: Ptr("Nowhere/Void")}}, true},
		{"bad digest day", &PreferencesPatch{Digest: &DigestPatch{WeeklyDay: Ptr(7)}}, true},
		{"bad digest time", &PreferencesPatch{Digest: &DigestPatch{DailyTime: Ptr("8am")}}, true},
		{"unknown category", &PreferencesPatch{Categories: CategoryPreferencesPatch{"unknown": {}}}, true},
		{"unknown frequency", &PreferencesPatch{Categories: CategoryPreferencesPatch{
			CategoryChats: {ChannelPush: {Frequency: Ptr(Frequency("sometimes"))}},
		}}, true},
		{"good categories", &PreferencesPatch{Categories: CategoryPreferencesPatch{
			CategoryChats: {ChannelPush: {Enabled: Ptr(false)}},
		}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePreferencesPatch(tc.patch)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
