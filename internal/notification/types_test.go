package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCategoryFor(t *testing.T) {
	cases := []struct {
		typ  Type
		want Category
	}{
		{TypeNewMessage, CategoryChats},
		{TypeListingFavorited, CategoryPosts},
		{TypeArrangementConfirmed, CategorySocial},
		{TypeAccountSecurity, CategorySecurity},
		{TypeVerification, CategorySecurity},
		{TypePasswordReset, CategorySecurity},
		{TypePromotion, CategoryMarketing},
		{TypeSystemAnnouncement, CategorySystem},
		{TypeDigest, CategorySystem},
		{Type("anything_else"), CategorySystem},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CategoryFor(tc.typ), "type %s", tc.typ)
	}
}

func TestDefaultPriority(t *testing.T) {
	cases := []struct {
		typ  Type
		want Priority
	}{
		{TypeAccountSecurity, PriorityCritical},
		{TypeVerification, PriorityCritical},
		{TypePasswordReset, PriorityCritical},
		{TypeNewMessage, PriorityHigh},
		{TypeArrangementConfirmed, PriorityHigh},
		{TypePromotion, PriorityLow},
		{TypeListingFavorited, PriorityNormal},
		{TypeSystemAnnouncement, PriorityNormal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DefaultPriority(tc.typ), "type %s", tc.typ)
	}
}

func TestEffectivePriorityPrefersExplicit(t *testing.T) {
	n := &Notification{Type: TypePromotion}
	assert.Equal(t, PriorityLow, n.EffectivePriority())

	n.Priority = PriorityCritical
	assert.Equal(t, PriorityCritical, n.EffectivePriority())
}

func TestPriorityOrdering(t *testing.T) {
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityNormal.Rank())
	assert.Greater(t, PriorityNormal.Rank(), PriorityLow.Rank())

	assert.Equal(t, 10, PriorityCritical.QueueWeight())
	assert.Equal(t, 8, PriorityHigh.QueueWeight())
	assert.Equal(t, 5, PriorityNormal.QueueWeight())
	assert.Equal(t, 5, Priority("").QueueWeight())
	assert.Equal(t, 2, PriorityLow.QueueWeight())
}

func TestFrequencyIsDigest(t *testing.T) {
	assert.False(t, FrequencyInstant.IsDigest())
	assert.False(t, FrequencyNever.IsDigest())
	assert.True(t, FrequencyHourly.IsDigest())
	assert.True(t, FrequencyDaily.IsDigest())
	assert.True(t, FrequencyWeekly.IsDigest())
}

func TestIsCriticalSecurity(t *testing.T) {
	assert.True(t, IsCriticalSecurity(TypeAccountSecurity))
	assert.True(t, IsCriticalSecurity(TypeVerification))
	assert.True(t, IsCriticalSecurity(TypePasswordReset))
	assert.False(t, IsCriticalSecurity(TypeNewMessage))
	assert.False(t, IsCriticalSecurity(TypeSystemAnnouncement))
}

func TestDndActive(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	assert.True(t, DndSettings{Enabled: true, Until: &later}.Active(now))
	assert.False(t, DndSettings{Enabled: true, Until: &earlier}.Active(now), "expired dnd is inert")
	assert.False(t, DndSettings{Enabled: true}.Active(now), "dnd without an expiry never engages")
	assert.False(t, DndSettings{Enabled: false, Until: &later}.Active(now))
}

func TestSendResultSettle(t *testing.T) {
	res := &SendResult{Channels: []ChannelResult{
		{Channel: ChannelPush, Status: StatusDelivered},
		{Channel: ChannelEmail, Status: StatusScheduled},
		{Channel: ChannelInApp, Status: StatusBlocked},
	}}
	res.Settle()
	assert.True(t, res.Success, "deferred and blocked channels are intentional outcomes")

	res.Channels = append(res.Channels, ChannelResult{Channel: ChannelSMS, Status: StatusFailed})
	res.Settle()
	assert.False(t, res.Success)

	empty := &SendResult{}
	empty.Settle()
	assert.True(t, empty.Success)
}

func TestProviderHealthScore(t *testing.T) {
	fresh := &ProviderHealth{}
	assert.Equal(t, 1.0, fresh.Score(), "no data means benefit of the doubt")

	good := &ProviderHealth{SuccessCount: 99, FailureCount: 1, TotalLatencyMs: 100 * 40}
	assert.InDelta(t, 0.99, good.Score(), 0.001)

	slow := &ProviderHealth{SuccessCount: 100, TotalLatencyMs: 100 * 2000}
	assert.InDelta(t, 0.5, slow.Score(), 0.001, "latency above 1s discounts the rate")

	dead := &ProviderHealth{SuccessCount: 1, FailureCount: 99, TotalLatencyMs: 100 * 50000}
	assert.InDelta(t, 0.001, dead.Score(), 0.0005, "latency factor bottoms out at 0.1")
}

func TestChannelAndPlatformValidation(t *testing.T) {
	for _, ch := range []Channel{ChannelPush, ChannelEmail, ChannelSMS, ChannelInApp} {
		assert.True(t, ch.Valid(), "channel %s", ch)
	}
	assert.False(t, Channel("pigeon").Valid())

	for _, p := range []Platform{PlatformIOS, PlatformAndroid, PlatformWeb} {
		assert.True(t, p.Valid(), "platform %s", p)
	}
	assert.False(t, Platform("blackberry").Valid())

	for _, c := range []Category{CategoryChats, CategoryPosts, CategorySocial, CategorySystem, CategorySecurity, CategoryMarketing} {
		assert.True(t, c.Valid(), "category %s", c)
	}
	assert.False(t, Category("weather").Valid())
}

func TestPtr(t *testing.T) {
	s := Ptr("x")
	assert.Equal(t, "x", *s)
	n := Ptr(int64(7))
	assert.Equal(t, int64(7), *n)
}
